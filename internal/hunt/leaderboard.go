package hunt

import (
	"cmp"
	"context"
	"fmt"
	"slices"
)

// tieBreak is the secondary ordering key: finish time for finished players,
// otherwise the number of accepted scans (fewer is better).
func tieBreak(p *Player) int64 {
	if p.Finished {
		return p.ElapsedMs
	}
	return int64(p.EventCount)
}

// Rank orders started players by score, then finished ahead of unfinished,
// then tie-break, then registration time and id. The result is the same for
// the same input regardless of its order.
func Rank(players []Player) []LeaderboardEntry {
	started := make([]Player, 0, len(players))
	for _, p := range players {
		if p.Started() {
			started = append(started, p)
		}
	}

	slices.SortFunc(started, func(a, b Player) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if a.Finished != b.Finished {
			if a.Finished {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(tieBreak(&a), tieBreak(&b)); c != 0 {
			return c
		}
		if c := a.RegisteredAt.Compare(b.RegisteredAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	entries := make([]LeaderboardEntry, len(started))
	for i := range started {
		p := &started[i]
		entries[i] = LeaderboardEntry{
			PlayerID: p.ID,
			Name:     p.Name,
			Avatar:   p.Avatar,
			TeamID:   p.TeamID,
			Score:    p.Score,
			Rank:     i + 1,
			TieBreak: tieBreak(p),
			Finished: p.Finished,
		}
	}
	return entries
}

// entryFor returns p's ranked entry, or an unranked one when p is not on the
// board.
func entryFor(p Player, entries []LeaderboardEntry) LeaderboardEntry {
	for _, e := range entries {
		if e.PlayerID == p.ID {
			return e
		}
	}
	return LeaderboardEntry{
		PlayerID: p.ID,
		Name:     p.Name,
		Avatar:   p.Avatar,
		TeamID:   p.TeamID,
		Score:    p.Score,
		TieBreak: tieBreak(&p),
		Finished: p.Finished,
	}
}

// GetLeaderboard ranks the session's players from the store.
func (e *Engine) GetLeaderboard(ctx context.Context, sessionID string) ([]LeaderboardEntry, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	players, err := e.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing players: %w", err)
	}
	return Rank(players), nil
}

// Recompute rebuilds the projected leaderboard and per-player entries from
// the store. Unlike the post-change rebuild, a live failure is returned.
func (e *Engine) Recompute(ctx context.Context, sessionID string) ([]LeaderboardEntry, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	lctx, cancel := e.liveContext(ctx)
	defer cancel()
	entries, err := e.live.RebuildLeaderboard(lctx, sessionID, e.ranking(sessionID))
	if err != nil {
		return nil, fmt.Errorf("%w: rebuilding leaderboard: %v", ErrDependencyTimeout, err)
	}
	return entries, nil
}
