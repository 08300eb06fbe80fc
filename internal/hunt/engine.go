package hunt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrSkipWrite may be returned by a mutation passed to the SessionStore to
// end the transaction without writing. The store then returns the record as
// loaded and a nil error.
var ErrSkipWrite = errors.New("skip write")

// SessionStore is the durable system of record. Every mutation of a single
// session or player document is an atomic read-modify-write.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// UpsertSession loads the session (or a zero Session when absent), applies
	// fn and saves the result in one transaction.
	UpsertSession(ctx context.Context, sessionID string, fn func(s *Session, exists bool) error) (Session, error)
	ModifySession(ctx context.Context, sessionID string, fn func(*Session) error) (Session, error)
	ListSessionIDs(ctx context.Context, phase Phase) ([]string, error)

	GetPlayer(ctx context.Context, sessionID, playerID string) (Player, error)
	// CreatePlayer inserts p unless the session already holds a player with
	// the same id. It returns the stored record and whether it was created.
	CreatePlayer(ctx context.Context, p Player) (Player, bool, error)
	// ModifyPlayer applies fn to the stored player and saves it together with
	// the events fn returns, in one transaction. fn also receives the session
	// as read in that transaction.
	ModifyPlayer(ctx context.Context, sessionID, playerID string, fn func(*Session, *Player) ([]ProgressEvent, error)) (Player, error)
	DeletePlayer(ctx context.Context, sessionID, playerID string) (Player, error)
	ListPlayers(ctx context.Context, sessionID string) ([]Player, error)
	CountAssignedTypes(ctx context.Context, sessionID, teamID string) (map[string]int, error)
	CountEvents(ctx context.Context, sessionID string) (int, error)
	ListEvents(ctx context.Context, sessionID, playerID string) ([]ProgressEvent, error)

	// ResetSession deletes every player and event of the session and applies
	// fn to the session document, all in one transaction.
	ResetSession(ctx context.Context, sessionID string, fn func(*Session) error) (Session, error)
}

// LiveChannel is the disposable broadcast projection read by displays and
// devices. It is never consulted to enforce game rules.
type LiveChannel interface {
	PublishSession(ctx context.Context, state SessionState) error
	// PublishPlayer notifies subscribers of one player's entry. The stored
	// per-player entries are owned by RebuildLeaderboard.
	PublishPlayer(ctx context.Context, sessionID string, entry LeaderboardEntry) error
	// RebuildLeaderboard replaces the projected leaderboard and every
	// per-player entry with the result of build. Rebuilds of one session are
	// serialised with build running inside, so a board built from an older
	// read never replaces a newer one.
	RebuildLeaderboard(ctx context.Context, sessionID string, build func(context.Context) ([]LeaderboardEntry, error)) ([]LeaderboardEntry, error)
	// AdjustStats resolves d against the stored counters as one transaction
	// and returns the result.
	AdjustStats(ctx context.Context, sessionID string, d StatsDelta) (Stats, error)
	SetStats(ctx context.Context, sessionID string, s Stats) error
	Stats(ctx context.Context, sessionID string) (Stats, error)
	// Player returns the projected entry of one player.
	Player(ctx context.Context, sessionID, playerID string) (LeaderboardEntry, bool, error)
	Clear(ctx context.Context, sessionID string) error
}

const (
	defaultLiveTimeout    = 3 * time.Second
	defaultRepeatCooldown = 30 * time.Second
)

type Engine struct {
	store       SessionStore
	live        LiveChannel
	logger      *slog.Logger
	liveTimeout time.Duration
	now         func() time.Time
	newID       func() string
}

type Option func(*Engine)

// WithClock replaces the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLiveTimeout bounds every live channel round trip.
func WithLiveTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.liveTimeout = d
		}
	}
}

func New(store SessionStore, live LiveChannel, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		live:        live,
		logger:      logger,
		liveTimeout: defaultLiveTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// liveContext detaches live channel calls from request cancellation while
// keeping them bounded.
func (e *Engine) liveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.liveTimeout)
}

func (e *Engine) liveFailed(sessionID, op string, err error) {
	e.logger.Warn("live channel update failed",
		"session_id", sessionID,
		"op", op,
		"error", fmt.Errorf("%w: %v", ErrDependencyTimeout, err),
	)
}

// afterChange runs the post-commit side effects of a state-changing
// operation: stats adjustment, leaderboard rebuild and publication. Failures
// are logged and left for Resync; the committed operation stands.
func (e *Engine) afterChange(ctx context.Context, sessionID string, d StatsDelta, player *Player) {
	lctx, cancel := e.liveContext(ctx)
	defer cancel()

	if !d.empty() {
		if _, err := e.live.AdjustStats(lctx, sessionID, d); err != nil {
			e.liveFailed(sessionID, "adjust_stats", err)
		}
	}

	entries, err := e.live.RebuildLeaderboard(lctx, sessionID, e.ranking(sessionID))
	if err != nil {
		e.liveFailed(sessionID, "rebuild_leaderboard", err)
	}

	if player != nil {
		if err := e.live.PublishPlayer(lctx, sessionID, entryFor(*player, entries)); err != nil {
			e.liveFailed(sessionID, "publish_player", err)
		}
	}
}

// ranking ranks the session's players as stored when it is called.
func (e *Engine) ranking(sessionID string) func(context.Context) ([]LeaderboardEntry, error) {
	return func(ctx context.Context) ([]LeaderboardEntry, error) {
		players, err := e.store.ListPlayers(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("listing players: %w", err)
		}
		return Rank(players), nil
	}
}

// topScore reads the highest stored score of the session.
func (e *Engine) topScore(sessionID string) func(context.Context) (int, error) {
	rank := e.ranking(sessionID)
	return func(ctx context.Context) (int, error) {
		entries, err := rank(ctx)
		if err != nil || len(entries) == 0 {
			return 0, err
		}
		return entries[0].Score, nil
	}
}

// publishSession pushes the session-level projection with the current stats.
func (e *Engine) publishSession(ctx context.Context, s Session) {
	lctx, cancel := e.liveContext(ctx)
	defer cancel()

	stats, err := e.live.Stats(lctx, s.ID)
	if err != nil {
		e.liveFailed(s.ID, "read_stats", err)
	}
	if err := e.live.PublishSession(lctx, sessionState(s, stats)); err != nil {
		e.liveFailed(s.ID, "publish_session", err)
	}
}

func sessionState(s Session, stats Stats) SessionState {
	return SessionState{
		SessionID:          s.ID,
		Phase:              s.Phase,
		CountdownSeconds:   s.CountdownSeconds,
		CountdownStartedAt: s.CountdownStartedAt,
		StartedAt:          s.StartedAt,
		Stats:              stats,
	}
}
