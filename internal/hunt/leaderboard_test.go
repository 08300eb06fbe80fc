package hunt_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/qrinfo/hunt/internal/hunt"
)

func started(id string, score int, registered time.Duration) hunt.Player {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	at := base.Add(time.Hour)
	return hunt.Player{ID: id, Name: id, Score: score, RegisteredAt: base.Add(registered), StartedAt: &at}
}

func TestRank(t *testing.T) {
	finished := func(p hunt.Player, elapsed int64) hunt.Player {
		p.Finished = true
		p.ElapsedMs = elapsed
		return p
	}
	withEvents := func(p hunt.Player, n int) hunt.Player {
		p.EventCount = n
		return p
	}

	players := []hunt.Player{
		withEvents(started("slow-scanner", 20, 0), 5),
		finished(started("fast-finish", 20, 3), 60_000),
		finished(started("slow-finish", 20, 1), 90_000),
		withEvents(started("quick-scanner", 20, 2), 2),
		started("leader", 50, 4),
		started("late-b", 0, 5),
		started("late-a", 0, 5),
		{ID: "not-started", Score: 99},
	}
	want := []string{"leader", "fast-finish", "slow-finish", "quick-scanner", "slow-scanner", "late-a", "late-b"}

	for i := range 20 {
		shuffled := slices.Clone(players)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		entries := hunt.Rank(shuffled)
		var got []string
		for j, e := range entries {
			got = append(got, e.PlayerID)
			if e.Rank != j+1 {
				t.Errorf("run %d: %s rank = %d, want %d", i, e.PlayerID, e.Rank, j+1)
			}
		}
		if !slices.Equal(got, want) {
			t.Fatalf("run %d: order = %v, want %v", i, got, want)
		}
	}
}

func TestRankEmpty(t *testing.T) {
	entries := hunt.Rank(nil)
	if entries == nil || len(entries) != 0 {
		t.Errorf("Rank(nil) = %#v, want empty non-nil", entries)
	}
}

func TestGetLeaderboardAndRecompute(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10), code("B", "", 20)))
	ctx := context.Background()

	f.join(t, "s1", "p1")
	f.join(t, "s1", "p2")
	f.scan(t, "s1", "p2", "B")

	board, err := f.engine.GetLeaderboard(ctx, "s1")
	if err != nil {
		t.Fatalf("GetLeaderboard: %v", err)
	}
	if len(board) != 2 || board[0].PlayerID != "p2" || board[0].Score != 20 {
		t.Errorf("leaderboard = %+v", board)
	}

	stale := f.withLive(downLive{})
	if _, err := stale.SubmitScan(ctx, "s1", "p1", "B"); err != nil {
		t.Fatalf("SubmitScan with live down: %v", err)
	}
	if got := f.board(t, "s1"); got[0].PlayerID != "p2" || got[1].Score != 0 {
		t.Fatalf("projection = %+v, want stale", got)
	}

	if _, err := f.engine.Recompute(ctx, "s1"); err != nil {
		t.Fatalf("Recompute: %v", err)
	}
	got := f.board(t, "s1")
	if got[0].PlayerID != "p1" || got[0].Score != 20 {
		t.Errorf("recomputed projection = %+v, want p1 first", got)
	}

	if _, err := stale.Recompute(ctx, "s1"); !errors.Is(err, hunt.ErrDependencyTimeout) {
		t.Errorf("Recompute with live down error = %v, want ErrDependencyTimeout", err)
	}
	if _, err := f.engine.GetLeaderboard(ctx, "nope"); !errors.Is(err, hunt.ErrNotFound) {
		t.Errorf("unknown session error = %v, want ErrNotFound", err)
	}
}
