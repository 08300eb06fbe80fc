package hunt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qrinfo/hunt/internal/hunt"
)

func TestReset(t *testing.T) {
	f := newFixture(t)
	cfg := typeScored("s1", code("A", "", 10))
	cfg.CountdownSeconds = 5
	f.configure(t, cfg)
	f.configure(t, typeScored("other", code("A", "", 10)))
	ctx := context.Background()

	f.join(t, "s1", "p1")
	f.join(t, "s1", "p2")
	f.scan(t, "s1", "p1", "A")
	f.join(t, "other", "p1")
	if _, err := f.engine.SetPhase(ctx, "s1", hunt.PhaseFinished); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}

	sess, err := f.engine.Reset(ctx, "s1")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if sess.Phase != hunt.PhaseRegistration || sess.StartedAt != nil || sess.EndedAt != nil {
		t.Errorf("session = phase %s startedAt %v endedAt %v", sess.Phase, sess.StartedAt, sess.EndedAt)
	}
	if len(sess.Targets) != 1 || sess.CountdownSeconds != 5 {
		t.Errorf("configuration lost: %+v", sess)
	}

	players, err := f.engine.GetPlayers(ctx, "s1")
	if err != nil {
		t.Fatalf("GetPlayers: %v", err)
	}
	if len(players) != 0 {
		t.Errorf("players = %d, want 0", len(players))
	}
	if n, _ := f.store.CountEvents(ctx, "s1"); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
	if got := f.stats(t, "s1"); got != (hunt.Stats{}) {
		t.Errorf("stats = %+v, want zero", got)
	}
	if got := f.stats(t, "other"); got.TotalPlayers != 1 {
		t.Errorf("other session stats = %+v, want untouched", got)
	}

	if _, err := f.engine.Register(ctx, "s1", "p1", hunt.Registration{Name: "Again"}); err != nil {
		t.Errorf("Register after reset: %v", err)
	}
	if _, err := f.engine.Reset(ctx, "nope"); !errors.Is(err, hunt.ErrNotFound) {
		t.Errorf("unknown session error = %v, want ErrNotFound", err)
	}
}

func TestResyncEmptySession(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10)))

	res, err := f.engine.Resync(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if res.Stats != (hunt.Stats{}) {
		t.Errorf("stats = %+v, want zero", res.Stats)
	}
	if res.Leaderboard == nil || len(res.Leaderboard) != 0 {
		t.Errorf("leaderboard = %#v, want empty non-nil", res.Leaderboard)
	}
}

func TestResyncRepairsDrift(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10), code("B", "", 5)))
	ctx := context.Background()

	f.join(t, "s1", "p1")
	stale := f.withLive(downLive{})
	if _, err := stale.Register(ctx, "s1", "p2", hunt.Registration{Name: "Bo"}); err != nil {
		t.Fatalf("Register with live down: %v", err)
	}
	if _, err := stale.Start(ctx, "s1", "p2"); err != nil {
		t.Fatalf("Start with live down: %v", err)
	}
	if res, err := stale.SubmitScan(ctx, "s1", "p2", "A"); err != nil || !res.Accepted {
		t.Fatalf("SubmitScan with live down = %+v, %v", res, err)
	}
	if res, err := stale.SubmitScan(ctx, "s1", "p2", "B"); err != nil || !res.Completed {
		t.Fatalf("SubmitScan with live down = %+v, %v", res, err)
	}

	if got := f.stats(t, "s1"); got.TotalPlayers != 1 {
		t.Fatalf("stats before resync = %+v, want drifted", got)
	}

	if _, err := stale.Resync(ctx, "s1"); !errors.Is(err, hunt.ErrDependencyTimeout) {
		t.Errorf("Resync with live down error = %v, want ErrDependencyTimeout", err)
	}

	res, err := f.engine.Resync(ctx, "s1")
	if err != nil {
		t.Fatalf("Resync: %v", err)
	}
	want := hunt.Stats{TotalPlayers: 2, PlayersPlaying: 1, PlayersFinished: 1, TopScore: 15, TotalEvents: 2}
	if res.Stats != want {
		t.Errorf("resync stats = %+v, want %+v", res.Stats, want)
	}
	if got := f.stats(t, "s1"); got != want {
		t.Errorf("live stats = %+v, want %+v", got, want)
	}
	board := f.board(t, "s1")
	if len(board) != 2 || board[0].PlayerID != "p2" || !board[0].Finished {
		t.Errorf("leaderboard = %+v, want p2 finished first", board)
	}
}

func TestGetStatsFallsBackToStore(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10), code("B", "", 5)))
	ctx := context.Background()

	f.join(t, "s1", "p1")
	f.scan(t, "s1", "p1", "B")
	if _, err := f.engine.Register(ctx, "s1", "p2", hunt.Registration{Name: "Bo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	fromLive, err := f.engine.GetStats(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	fromStore, err := f.withLive(downLive{}).GetStats(ctx, "s1")
	if err != nil {
		t.Fatalf("GetStats with live down: %v", err)
	}
	want := hunt.Stats{TotalPlayers: 2, PlayersPlaying: 1, TopScore: 5, TotalEvents: 1}
	if fromLive != want || fromStore != want {
		t.Errorf("stats live %+v store %+v, want %+v", fromLive, fromStore, want)
	}
}

func TestStatsPartitionPlayers(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10), code("B", "", 10)))
	ctx := context.Background()

	check := func(step string) {
		t.Helper()
		s := f.stats(t, "s1")
		players, err := f.engine.GetPlayers(ctx, "s1")
		if err != nil {
			t.Fatalf("GetPlayers: %v", err)
		}
		notStarted := 0
		for _, p := range players {
			if !p.Started() {
				notStarted++
			}
		}
		if s.PlayersPlaying+s.PlayersFinished+notStarted != s.TotalPlayers {
			t.Errorf("%s: stats %+v with %d not started do not partition players", step, s, notStarted)
		}
		n, _ := f.store.CountEvents(ctx, "s1")
		if s.TotalEvents != n {
			t.Errorf("%s: totalEvents = %d, want %d", step, s.TotalEvents, n)
		}
	}

	f.engine.Register(ctx, "s1", "waiting", hunt.Registration{Name: "Waiting"})
	check("registered")
	f.join(t, "s1", "p1")
	f.join(t, "s1", "p2")
	check("started")
	f.scan(t, "s1", "p1", "A")
	f.scan(t, "s1", "p1", "B")
	check("finished by scan")
	f.clock.Advance(time.Minute)
	if _, err := f.engine.FinishPlayer(ctx, "s1", "p2"); err != nil {
		t.Fatalf("FinishPlayer: %v", err)
	}
	check("finished by operator")
	if err := f.engine.DeletePlayer(ctx, "s1", "p1"); err != nil {
		t.Fatalf("DeletePlayer: %v", err)
	}
	check("deleted")
}

func TestResyncReplacesPlayerEntries(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10), code("B", "", 5)))
	ctx := context.Background()

	f.join(t, "s1", "p1")
	f.join(t, "s1", "p2")
	f.scan(t, "s1", "p1", "A")

	stale := f.withLive(downLive{})
	if err := stale.DeletePlayer(ctx, "s1", "p1"); err != nil {
		t.Fatalf("DeletePlayer with live down: %v", err)
	}
	if _, ok := f.entry(t, "s1", "p1"); !ok {
		t.Fatal("p1 entry missing before resync, want drifted projection")
	}

	if _, err := f.engine.Resync(ctx, "s1"); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if _, ok := f.entry(t, "s1", "p1"); ok {
		t.Error("deleted player still projected after resync")
	}
	if e, ok := f.entry(t, "s1", "p2"); !ok || e.Rank != 1 {
		t.Errorf("p2 entry = %+v, %v, want rank 1", e, ok)
	}
	if got := f.stats(t, "s1"); got.TotalPlayers != 1 || got.TopScore != 0 {
		t.Errorf("stats = %+v, want one player and top score 0", got)
	}
}

func TestResetWithLiveDown(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10)))
	ctx := context.Background()

	f.join(t, "s1", "p1")
	f.scan(t, "s1", "p1", "A")
	if _, err := f.engine.SetPhase(ctx, "s1", hunt.PhaseFinished); err != nil {
		t.Fatalf("SetPhase: %v", err)
	}

	sess, err := f.withLive(downLive{}).Reset(ctx, "s1")
	if err != nil {
		t.Fatalf("Reset with live down: %v", err)
	}
	if sess.Phase != hunt.PhaseRegistration {
		t.Errorf("phase = %s, want registration", sess.Phase)
	}
	players, err := f.engine.GetPlayers(ctx, "s1")
	if err != nil {
		t.Fatalf("GetPlayers: %v", err)
	}
	if len(players) != 0 {
		t.Errorf("players = %d, want 0", len(players))
	}
	if got, _ := f.store.GetSession(ctx, "s1"); got.Phase != hunt.PhaseRegistration {
		t.Errorf("stored phase = %s, want registration", got.Phase)
	}
}

func TestHangingLiveIsBounded(t *testing.T) {
	f := newFixture(t)
	f.configure(t, typeScored("s1", code("A", "", 10), code("B", "", 5)))
	ctx := context.Background()
	f.join(t, "s1", "p1")

	const timeout = 50 * time.Millisecond
	e := hunt.New(f.store, hangingLive{}, discardLogger(),
		hunt.WithClock(f.clock.Now),
		hunt.WithLiveTimeout(timeout),
	)

	begin := time.Now()
	res, err := e.SubmitScan(ctx, "s1", "p1", "A")
	if err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 20*timeout {
		t.Errorf("SubmitScan took %v with live timeout %v", elapsed, timeout)
	}
	if !res.Accepted || res.Score != 10 {
		t.Errorf("result = %+v, want accepted score 10", res)
	}
	if got := f.player(t, "s1", "p1").Score; got != 10 {
		t.Errorf("stored score = %d, want 10", got)
	}

	if _, err := e.Resync(ctx, "s1"); !errors.Is(err, hunt.ErrDependencyTimeout) {
		t.Errorf("Resync error = %v, want ErrDependencyTimeout", err)
	}
}
