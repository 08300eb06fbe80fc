package hunt

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Reset removes every player and event of the session and returns it to
// registration with timing cleared. The configuration is kept.
func (e *Engine) Reset(ctx context.Context, sessionID string) (Session, error) {
	now := e.now()
	sess, err := e.store.ResetSession(ctx, sessionID, func(s *Session) error {
		s.Phase = PhaseRegistration
		s.CountdownStartedAt = nil
		s.StartedAt = nil
		s.EndedAt = nil
		s.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("resetting session: %w", err)
	}
	e.logger.Info("session reset", "session_id", sessionID)

	lctx, cancel := e.liveContext(ctx)
	defer cancel()
	if err := e.live.Clear(lctx, sessionID); err != nil {
		e.liveFailed(sessionID, "clear", err)
	}
	if err := e.live.SetStats(lctx, sessionID, Stats{}); err != nil {
		e.liveFailed(sessionID, "set_stats", err)
	}
	if _, err := e.live.RebuildLeaderboard(lctx, sessionID, e.ranking(sessionID)); err != nil {
		e.liveFailed(sessionID, "rebuild_leaderboard", err)
	}
	if err := e.live.PublishSession(lctx, sessionState(sess, Stats{})); err != nil {
		e.liveFailed(sessionID, "publish_session", err)
	}
	return sess, nil
}

type ResyncResult struct {
	Stats       Stats              `json:"stats"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// Resync rebuilds the whole live projection of a session from the store:
// stats, leaderboard, per-player entries and session state. It is the repair
// path after live updates were lost, so live failures are returned rather
// than logged.
func (e *Engine) Resync(ctx context.Context, sessionID string) (ResyncResult, error) {
	sess, err := e.session(ctx, sessionID)
	if err != nil {
		return ResyncResult{}, err
	}

	var (
		players []Player
		events  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		players, err = e.store.ListPlayers(gctx, sessionID)
		if err != nil {
			return fmt.Errorf("listing players: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		events, err = e.store.CountEvents(gctx, sessionID)
		if err != nil {
			return fmt.Errorf("counting events: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ResyncResult{}, err
	}

	res := ResyncResult{Stats: StatsFromPlayers(players, events)}

	lctx, cancel := e.liveContext(ctx)
	defer cancel()
	if err := e.live.SetStats(lctx, sessionID, res.Stats); err != nil {
		return ResyncResult{}, fmt.Errorf("%w: setting stats: %v", ErrDependencyTimeout, err)
	}
	res.Leaderboard, err = e.live.RebuildLeaderboard(lctx, sessionID, e.ranking(sessionID))
	if err != nil {
		return ResyncResult{}, fmt.Errorf("%w: rebuilding leaderboard: %v", ErrDependencyTimeout, err)
	}
	if err := e.live.PublishSession(lctx, sessionState(sess, res.Stats)); err != nil {
		return ResyncResult{}, fmt.Errorf("%w: publishing session: %v", ErrDependencyTimeout, err)
	}
	e.logger.Info("session resynced", "session_id", sessionID, "players", res.Stats.TotalPlayers, "events", events)
	return res, nil
}
