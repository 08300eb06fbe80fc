package hunt

import (
	"context"
	"fmt"
)

// StatsFromPlayers derives session counters from player records. Every
// registered player is counted in exactly one of: not started, playing,
// finished.
func StatsFromPlayers(players []Player, events int) Stats {
	s := Stats{TotalPlayers: len(players), TotalEvents: events}
	for i := range players {
		p := &players[i]
		switch {
		case p.Finished:
			s.PlayersFinished++
		case p.Started():
			s.PlayersPlaying++
		}
		if p.Score > s.TopScore {
			s.TopScore = p.Score
		}
	}
	return s
}

// GetStats returns the projected counters, computing them from the store
// when the live channel cannot answer.
func (e *Engine) GetStats(ctx context.Context, sessionID string) (Stats, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return Stats{}, fmt.Errorf("loading session: %w", err)
	}

	lctx, cancel := e.liveContext(ctx)
	stats, err := e.live.Stats(lctx, sessionID)
	cancel()
	if err == nil {
		return stats, nil
	}
	e.liveFailed(sessionID, "read_stats", err)

	players, err := e.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("listing players: %w", err)
	}
	events, err := e.store.CountEvents(ctx, sessionID)
	if err != nil {
		return Stats{}, fmt.Errorf("counting events: %w", err)
	}
	return StatsFromPlayers(players, events), nil
}
