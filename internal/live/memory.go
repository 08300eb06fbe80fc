package live

import (
	"context"
	"sync"

	"github.com/qrinfo/hunt/internal/hunt"
)

type projection struct {
	state       *hunt.SessionState
	stats       hunt.Stats
	leaderboard []hunt.LeaderboardEntry
	players     map[string]hunt.LeaderboardEntry
}

// Memory keeps the projection in process. It serves single-instance
// deployments and tests.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*projection
	broker   *Broker
}

var _ Channel = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*projection),
		broker:   NewBroker(),
	}
}

func (m *Memory) get(sessionID string) *projection {
	p, ok := m.sessions[sessionID]
	if !ok {
		p = &projection{players: make(map[string]hunt.LeaderboardEntry)}
		m.sessions[sessionID] = p
	}
	return p
}

func (m *Memory) publish(typ, sessionID string, v any) error {
	data, err := encode(typ, sessionID, v)
	if err != nil {
		return err
	}
	m.broker.Publish(sessionID, data)
	return nil
}

func (m *Memory) PublishSession(_ context.Context, state hunt.SessionState) error {
	m.mu.Lock()
	m.get(state.SessionID).state = &state
	m.mu.Unlock()
	return m.publish(TypeSession, state.SessionID, state)
}

func (m *Memory) PublishPlayer(_ context.Context, sessionID string, entry hunt.LeaderboardEntry) error {
	return m.publish(TypePlayer, sessionID, entry)
}

// RebuildLeaderboard holds the projection lock while build runs and while
// the result is published, so rebuilds are applied and delivered in order.
func (m *Memory) RebuildLeaderboard(ctx context.Context, sessionID string, build func(context.Context) ([]hunt.LeaderboardEntry, error)) ([]hunt.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := build(ctx)
	if err != nil {
		return nil, err
	}
	p := m.get(sessionID)
	p.leaderboard = append([]hunt.LeaderboardEntry{}, entries...)
	p.players = make(map[string]hunt.LeaderboardEntry, len(entries))
	for _, e := range entries {
		p.players[e.PlayerID] = e
	}
	return entries, m.publish(TypeLeaderboard, sessionID, p.leaderboard)
}

func (m *Memory) AdjustStats(ctx context.Context, sessionID string, d hunt.StatsDelta) (hunt.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.get(sessionID)
	stats, err := d.Resolve(ctx, p.stats)
	if err != nil {
		return hunt.Stats{}, err
	}
	p.stats = stats
	return stats, m.publish(TypeStats, sessionID, stats)
}

func (m *Memory) SetStats(_ context.Context, sessionID string, s hunt.Stats) error {
	m.mu.Lock()
	m.get(sessionID).stats = s
	m.mu.Unlock()
	return m.publish(TypeStats, sessionID, s)
}

func (m *Memory) Stats(_ context.Context, sessionID string) (hunt.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.sessions[sessionID]; ok {
		return p.stats, nil
	}
	return hunt.Stats{}, nil
}

func (m *Memory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return m.publish(TypeReset, sessionID, nil)
}

func (m *Memory) Player(_ context.Context, sessionID, playerID string) (hunt.LeaderboardEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.sessions[sessionID]; ok {
		e, ok := p.players[playerID]
		return e, ok, nil
	}
	return hunt.LeaderboardEntry{}, false, nil
}

func (m *Memory) Subscribe(_ context.Context, sessionID string) (<-chan []byte, func(), error) {
	ch := m.broker.Subscribe(sessionID)
	return ch, func() { m.broker.Unsubscribe(sessionID, ch) }, nil
}

func (m *Memory) Snapshot(_ context.Context, sessionID string) ([]Message, error) {
	m.mu.Lock()
	p, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, nil
	}
	var (
		state       *hunt.SessionState
		stats       = p.stats
		leaderboard = p.leaderboard
	)
	if p.state != nil {
		s := *p.state
		state = &s
	}
	m.mu.Unlock()

	return snapshot(sessionID, state, stats, leaderboard)
}

func (m *Memory) Ping(context.Context) error { return nil }
