package hunt_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/qrinfo/hunt/internal/database"
	"github.com/qrinfo/hunt/internal/hunt"
	"github.com/qrinfo/hunt/internal/live"
	"github.com/qrinfo/hunt/internal/migrations"
	"github.com/qrinfo/hunt/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	engine *hunt.Engine
	store  *store.DocStore
	live   *live.Memory
	clock  *clock
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) *store.DocStore {
	t.Helper()
	db, err := database.Open(context.Background(), filepath.Join(t.TempDir(), "hunt.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := migrations.Run(context.Background(), db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return store.NewDocStore(db)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newStore(t),
		live:  live.NewMemory(),
		clock: &clock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
	}
	f.engine = f.withLive(f.live)
	return f
}

// withLive returns a second engine over the same store and clock.
func (f *fixture) withLive(ch hunt.LiveChannel) *hunt.Engine {
	return hunt.New(f.store, ch, discardLogger(),
		hunt.WithClock(f.clock.Now),
		hunt.WithLiveTimeout(time.Second),
	)
}

func (f *fixture) configure(t *testing.T, cfg hunt.SessionConfig) hunt.Session {
	t.Helper()
	sess, err := f.engine.ConfigureSession(context.Background(), cfg)
	if err != nil {
		t.Fatalf("ConfigureSession: %v", err)
	}
	return sess
}

// join registers and starts a player.
func (f *fixture) join(t *testing.T, sessionID, playerID string) hunt.StartResult {
	t.Helper()
	return f.joinTeam(t, sessionID, playerID, "")
}

func (f *fixture) joinTeam(t *testing.T, sessionID, playerID, teamID string) hunt.StartResult {
	t.Helper()
	ctx := context.Background()
	if _, err := f.engine.Register(ctx, sessionID, playerID, hunt.Registration{Name: "Player " + playerID, TeamID: teamID}); err != nil {
		t.Fatalf("Register(%s): %v", playerID, err)
	}
	res, err := f.engine.Start(ctx, sessionID, playerID)
	if err != nil {
		t.Fatalf("Start(%s): %v", playerID, err)
	}
	return res
}

func (f *fixture) scan(t *testing.T, sessionID, playerID, ref string) hunt.ScanResult {
	t.Helper()
	res, err := f.engine.SubmitScan(context.Background(), sessionID, playerID, ref)
	if err != nil {
		t.Fatalf("SubmitScan(%s, %s): %v", playerID, ref, err)
	}
	return res
}

func (f *fixture) player(t *testing.T, sessionID, playerID string) hunt.Player {
	t.Helper()
	p, err := f.store.GetPlayer(context.Background(), sessionID, playerID)
	if err != nil {
		t.Fatalf("GetPlayer(%s): %v", playerID, err)
	}
	return p
}

func (f *fixture) stats(t *testing.T, sessionID string) hunt.Stats {
	t.Helper()
	s, err := f.live.Stats(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return s
}

// board decodes the leaderboard a newly connected display would receive.
func (f *fixture) board(t *testing.T, sessionID string) []hunt.LeaderboardEntry {
	t.Helper()
	msgs, err := f.live.Snapshot(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for _, m := range msgs {
		if m.Type != live.TypeLeaderboard {
			continue
		}
		var entries []hunt.LeaderboardEntry
		if err := json.Unmarshal(m.Data, &entries); err != nil {
			t.Fatalf("decoding leaderboard: %v", err)
		}
		return entries
	}
	return nil
}

func (f *fixture) entry(t *testing.T, sessionID, playerID string) (hunt.LeaderboardEntry, bool) {
	t.Helper()
	e, ok, err := f.live.Player(context.Background(), sessionID, playerID)
	if err != nil {
		t.Fatalf("live Player: %v", err)
	}
	return e, ok
}

func typeScored(id string, targets ...hunt.Target) hunt.SessionConfig {
	return hunt.SessionConfig{ID: id, Name: "Hunt", Mode: hunt.ModeTypeScored, Targets: targets}
}

func sequential(id string, n, points int) hunt.SessionConfig {
	cfg := hunt.SessionConfig{ID: id, Name: "Race", Mode: hunt.ModeSequential}
	for i := 1; i <= n; i++ {
		cfg.Targets = append(cfg.Targets, hunt.Target{
			ID:     "st" + string(rune('0'+i)),
			Order:  i,
			Points: points,
			Active: true,
		})
	}
	return cfg
}

func code(id, category string, points int) hunt.Target {
	return hunt.Target{ID: id, Category: category, Points: points, Active: true}
}

// errLiveDown is returned by every downLive call.
var errLiveDown = errors.New("live channel down")

type downLive struct{}

func (downLive) PublishSession(context.Context, hunt.SessionState) error { return errLiveDown }
func (downLive) PublishPlayer(context.Context, string, hunt.LeaderboardEntry) error {
	return errLiveDown
}
func (downLive) RebuildLeaderboard(context.Context, string, func(context.Context) ([]hunt.LeaderboardEntry, error)) ([]hunt.LeaderboardEntry, error) {
	return nil, errLiveDown
}
func (downLive) AdjustStats(context.Context, string, hunt.StatsDelta) (hunt.Stats, error) {
	return hunt.Stats{}, errLiveDown
}
func (downLive) SetStats(context.Context, string, hunt.Stats) error { return errLiveDown }
func (downLive) Stats(context.Context, string) (hunt.Stats, error) {
	return hunt.Stats{}, errLiveDown
}
func (downLive) Player(context.Context, string, string) (hunt.LeaderboardEntry, bool, error) {
	return hunt.LeaderboardEntry{}, false, errLiveDown
}
func (downLive) Clear(context.Context, string) error { return errLiveDown }

// hangingLive never answers; every call waits for its context.
type hangingLive struct{}

func (hangingLive) PublishSession(ctx context.Context, _ hunt.SessionState) error {
	<-ctx.Done()
	return ctx.Err()
}
func (hangingLive) PublishPlayer(ctx context.Context, _ string, _ hunt.LeaderboardEntry) error {
	<-ctx.Done()
	return ctx.Err()
}
func (hangingLive) RebuildLeaderboard(ctx context.Context, _ string, _ func(context.Context) ([]hunt.LeaderboardEntry, error)) ([]hunt.LeaderboardEntry, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (hangingLive) AdjustStats(ctx context.Context, _ string, _ hunt.StatsDelta) (hunt.Stats, error) {
	<-ctx.Done()
	return hunt.Stats{}, ctx.Err()
}
func (hangingLive) SetStats(ctx context.Context, _ string, _ hunt.Stats) error {
	<-ctx.Done()
	return ctx.Err()
}
func (hangingLive) Stats(ctx context.Context, _ string) (hunt.Stats, error) {
	<-ctx.Done()
	return hunt.Stats{}, ctx.Err()
}
func (hangingLive) Player(ctx context.Context, _, _ string) (hunt.LeaderboardEntry, bool, error) {
	<-ctx.Done()
	return hunt.LeaderboardEntry{}, false, ctx.Err()
}
func (hangingLive) Clear(ctx context.Context, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

// hookedStore runs each hook once, after the next read of its kind and
// before the caller sees the result.
type hookedStore struct {
	*store.DocStore
	listOnce, getOnce sync.Once
	afterList         func()
	afterGetSession   func()
}

func (s *hookedStore) ListPlayers(ctx context.Context, sessionID string) ([]hunt.Player, error) {
	players, err := s.DocStore.ListPlayers(ctx, sessionID)
	if s.afterList != nil {
		s.listOnce.Do(s.afterList)
	}
	return players, err
}

func (s *hookedStore) GetSession(ctx context.Context, sessionID string) (hunt.Session, error) {
	sess, err := s.DocStore.GetSession(ctx, sessionID)
	if s.afterGetSession != nil {
		s.getOnce.Do(s.afterGetSession)
	}
	return sess, err
}

// withStore returns an engine over st sharing the fixture's live channel
// and clock.
func (f *fixture) withStore(st hunt.SessionStore) *hunt.Engine {
	return hunt.New(st, f.live, discardLogger(),
		hunt.WithClock(f.clock.Now),
		hunt.WithLiveTimeout(time.Second),
	)
}

func TestTypeScoredScenario(t *testing.T) {
	f := newFixture(t)
	cfg := typeScored("s1", code("A", "", 10), code("B", "", 15))
	cfg.Rules.MinTargetsToFinish = 2
	f.configure(t, cfg)

	start := f.join(t, "s1", "p1")
	if start.TargetCount != 2 {
		t.Errorf("target count = %d, want 2", start.TargetCount)
	}

	res := f.scan(t, "s1", "p1", "A")
	if !res.Accepted || res.Score != 10 || res.Completed {
		t.Fatalf("scan A = %+v, want accepted score 10 not completed", res)
	}

	res = f.scan(t, "s1", "p1", "A")
	if res.Accepted || res.Reason != hunt.ReasonAlreadyCompleted || res.Score != 10 {
		t.Fatalf("rescan A = %+v, want rejected already_completed score 10", res)
	}

	res = f.scan(t, "s1", "p1", "B")
	if !res.Accepted || res.Score != 25 || !res.Completed {
		t.Fatalf("scan B = %+v, want accepted score 25 completed", res)
	}

	stats := f.stats(t, "s1")
	if stats.PlayersFinished != 1 {
		t.Errorf("playersFinished = %d, want 1", stats.PlayersFinished)
	}
	if stats.PlayersPlaying != 0 {
		t.Errorf("playersPlaying = %d, want 0", stats.PlayersPlaying)
	}
	if stats.TopScore != 25 || stats.TotalEvents != 2 {
		t.Errorf("stats = %+v, want topScore 25 totalEvents 2", stats)
	}

	p := f.player(t, "s1", "p1")
	if !p.Finished || p.FinishedAt == nil || p.Score != 25 {
		t.Errorf("player = %+v", p)
	}
}

func TestSequentialScenario(t *testing.T) {
	f := newFixture(t)
	f.configure(t, sequential("s1", 3, 10))
	f.join(t, "s1", "p1")

	if got := f.player(t, "s1", "p1").CurrentIndex; got != 0 {
		t.Fatalf("currentIndex = %d, want 0", got)
	}

	steps := []struct {
		ref       string
		accepted  bool
		reason    hunt.Reason
		index     int
		completed bool
	}{
		{"st3", false, hunt.ReasonOutOfOrder, 0, false},
		{"st1", true, "", 1, false},
		{"st3", false, hunt.ReasonOutOfOrder, 1, false},
		{"st2", true, "", 2, false},
		{"st3", true, "", 3, true},
	}
	for i, st := range steps {
		res := f.scan(t, "s1", "p1", st.ref)
		if res.Accepted != st.accepted || res.Reason != st.reason || res.Completed != st.completed {
			t.Errorf("step %d (%s) = %+v, want accepted=%v reason=%q completed=%v",
				i, st.ref, res, st.accepted, st.reason, st.completed)
		}
		if got := f.player(t, "s1", "p1").CurrentIndex; got != st.index {
			t.Errorf("step %d (%s): currentIndex = %d, want %d", i, st.ref, got, st.index)
		}
	}

	p := f.player(t, "s1", "p1")
	if p.Score != 30 {
		t.Errorf("score = %d, want 30", p.Score)
	}
	if len(p.StationTimes) != 3 {
		t.Errorf("station times = %v, want 3 entries", p.StationTimes)
	}
}
