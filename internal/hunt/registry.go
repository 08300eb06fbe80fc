package hunt

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Registration struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	TeamID string `json:"teamId"`
}

type StartResult struct {
	Player          Player    `json:"player"`
	StartedAt       time.Time `json:"startedAt"`
	AssignedType    string    `json:"assignedType,omitempty"`
	TargetCount     int       `json:"targetCount"`
	DurationSeconds int       `json:"durationSeconds"`
}

// Register creates the player record for identity. Registering an identity
// that already has a record returns that record unchanged.
func (e *Engine) Register(ctx context.Context, sessionID, identity string, reg Registration) (Player, error) {
	identity, err := playerID(identity)
	if err != nil {
		return Player{}, err
	}

	sess, err := e.session(ctx, sessionID)
	if err != nil {
		return Player{}, err
	}
	if !sess.CanRegister() {
		return Player{}, fmt.Errorf("%w: registration is closed (phase %s)", ErrInvalidState, sess.Phase)
	}

	name, err := validateName(reg.Name)
	if err != nil {
		return Player{}, err
	}
	avatar, err := validateAvatar(reg.Avatar)
	if err != nil {
		return Player{}, err
	}
	teamID := strings.TrimSpace(reg.TeamID)
	if sess.TeamMode() {
		if teamID == "" {
			return Player{}, fmt.Errorf("%w: team is required", ErrValidation)
		}
		if _, ok := sess.team(teamID); !ok {
			return Player{}, fmt.Errorf("%w: unknown team %q", ErrValidation, teamID)
		}
	} else {
		teamID = ""
	}

	p, created, err := e.store.CreatePlayer(ctx, Player{
		ID:           identity,
		SessionID:    sessionID,
		Name:         name,
		Avatar:       avatar,
		TeamID:       teamID,
		RegisteredAt: e.now(),
		Completed:    []string{},
	})
	if err != nil {
		return Player{}, fmt.Errorf("registering player: %w", err)
	}

	if created {
		e.logger.Info("player registered", "session_id", sessionID, "player_id", p.ID, "team_id", p.TeamID)
		e.afterChange(ctx, sessionID, StatsDelta{Players: 1}, nil)
	}
	return p, nil
}

// Start begins the player's run. Starting twice returns the first start
// unchanged.
func (e *Engine) Start(ctx context.Context, sessionID, identity string) (StartResult, error) {
	identity, err := playerID(identity)
	if err != nil {
		return StartResult{}, err
	}
	sess, err := e.session(ctx, sessionID)
	if err != nil {
		return StartResult{}, err
	}
	if !sess.CanStart() {
		return StartResult{}, fmt.Errorf("%w: cannot start during %s", ErrInvalidState, sess.Phase)
	}

	existing, err := e.store.GetPlayer(ctx, sessionID, identity)
	if err != nil {
		return StartResult{}, fmt.Errorf("loading player: %w", err)
	}
	if existing.Started() {
		return startResult(&sess, existing), nil
	}

	assigned := ""
	if sess.Mode == ModeTypeScored && sess.Rules.AssignTypes {
		assigned, err = e.pickType(ctx, &sess, existing.TeamID)
		if err != nil {
			return StartResult{}, err
		}
	}

	now := e.now()
	started := false
	p, err := e.store.ModifyPlayer(ctx, sessionID, identity, func(s *Session, p *Player) ([]ProgressEvent, error) {
		if p.Started() {
			return nil, ErrSkipWrite
		}
		if !s.CanStart() {
			return nil, fmt.Errorf("%w: cannot start during %s", ErrInvalidState, s.Phase)
		}
		p.StartedAt = &now
		p.AssignedType = assigned
		started = true
		return nil, nil
	})
	if err != nil {
		return StartResult{}, fmt.Errorf("starting player: %w", err)
	}

	if started {
		e.logger.Info("player started", "session_id", sessionID, "player_id", p.ID, "assigned_type", p.AssignedType)
		e.afterChange(ctx, sessionID, StatsDelta{Playing: 1}, &p)
	}
	return startResult(&sess, p), nil
}

// pickType returns the enabled type with the fewest current assignments,
// counted within the player's team when the session has teams. Ties go to
// the type listed first in the configuration.
func (e *Engine) pickType(ctx context.Context, sess *Session, teamID string) (string, error) {
	types := sess.enabledTypes()
	if len(types) == 0 {
		return "", nil
	}
	counts, err := e.store.CountAssignedTypes(ctx, sess.ID, teamID)
	if err != nil {
		return "", fmt.Errorf("counting type assignments: %w", err)
	}
	best := types[0]
	for _, t := range types[1:] {
		if counts[t] < counts[best] {
			best = t
		}
	}
	return best, nil
}

func startResult(sess *Session, p Player) StartResult {
	res := StartResult{
		Player:          p,
		AssignedType:    p.AssignedType,
		TargetCount:     sess.TargetCount(p.AssignedType),
		DurationSeconds: sess.Rules.MaxDurationSeconds,
	}
	if p.StartedAt != nil {
		res.StartedAt = *p.StartedAt
	}
	return res
}

// FinishPlayer completes a started player on the operator's behalf, keeping
// the score earned so far.
func (e *Engine) FinishPlayer(ctx context.Context, sessionID, identity string) (Player, error) {
	identity, err := playerID(identity)
	if err != nil {
		return Player{}, err
	}
	now := e.now()
	finished := false
	p, err := e.store.ModifyPlayer(ctx, sessionID, identity, func(_ *Session, p *Player) ([]ProgressEvent, error) {
		if !p.Started() {
			return nil, fmt.Errorf("%w: player has not started", ErrInvalidState)
		}
		if p.Finished {
			return nil, ErrSkipWrite
		}
		p.finish(now)
		finished = true
		return nil, nil
	})
	if err != nil {
		return Player{}, fmt.Errorf("finishing player: %w", err)
	}

	if finished {
		e.logger.Info("player finished by operator", "session_id", sessionID, "player_id", p.ID)
		e.afterChange(ctx, sessionID, StatsDelta{Playing: -1, Finished: 1}, &p)
	}
	return p, nil
}

func (e *Engine) DeletePlayer(ctx context.Context, sessionID, identity string) error {
	identity, err := playerID(identity)
	if err != nil {
		return err
	}
	p, err := e.store.DeletePlayer(ctx, sessionID, identity)
	if err != nil {
		return fmt.Errorf("deleting player: %w", err)
	}

	d := StatsDelta{Players: -1, TopScoreFrom: e.topScore(sessionID)}
	switch {
	case p.Finished:
		d.Finished = -1
	case p.Started():
		d.Playing = -1
	}
	e.logger.Info("player deleted", "session_id", sessionID, "player_id", p.ID)
	e.afterChange(ctx, sessionID, d, nil)
	return nil
}

type PlayerView struct {
	Player     Player          `json:"player"`
	Rank       int             `json:"rank"`
	NextTarget *Target         `json:"nextTarget,omitempty"`
	Events     []ProgressEvent `json:"events"`
}

// GetPlayer returns the device view of a single player.
func (e *Engine) GetPlayer(ctx context.Context, sessionID, identity string) (PlayerView, error) {
	identity, err := playerID(identity)
	if err != nil {
		return PlayerView{}, err
	}
	sess, err := e.session(ctx, sessionID)
	if err != nil {
		return PlayerView{}, err
	}
	p, err := e.store.GetPlayer(ctx, sessionID, identity)
	if err != nil {
		return PlayerView{}, fmt.Errorf("loading player: %w", err)
	}
	events, err := e.store.ListEvents(ctx, sessionID, identity)
	if err != nil {
		return PlayerView{}, fmt.Errorf("loading events: %w", err)
	}

	view := PlayerView{Player: p, Events: events}
	if p.Playing() {
		view.NextTarget = ruleFor(sess.Mode).next(&sess, &p)
	}
	if p.Started() {
		view.Rank, err = e.playerRank(ctx, p)
		if err != nil {
			return PlayerView{}, err
		}
	}
	return view, nil
}

// playerRank reads p's rank from the live projection. The store is ranked
// instead when the projected entry is missing, unreachable or behind p.
func (e *Engine) playerRank(ctx context.Context, p Player) (int, error) {
	lctx, cancel := e.liveContext(ctx)
	entry, ok, err := e.live.Player(lctx, p.SessionID, p.ID)
	cancel()
	if err != nil {
		e.liveFailed(p.SessionID, "read_player", err)
	}
	if ok && entry.Score == p.Score && entry.Finished == p.Finished {
		return entry.Rank, nil
	}

	entries, err := e.ranking(p.SessionID)(ctx)
	if err != nil {
		return 0, err
	}
	return entryFor(p, entries).Rank, nil
}

// playerID normalises a caller-supplied player identity.
func playerID(identity string) (string, error) {
	id := strings.TrimSpace(identity)
	if id == "" {
		return "", fmt.Errorf("%w: identity is required", ErrValidation)
	}
	return id, nil
}

func (e *Engine) GetPlayers(ctx context.Context, sessionID string) ([]Player, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	players, err := e.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return players, nil
}
