// Package live is the broadcast projection of hunt sessions: stats
// counters, the leaderboard and per-player entries, plus a feed of change
// messages for displays. Two implementations share one message format:
// Redis for multi-instance deployments and Memory for a single process.
package live

import (
	"context"
	"encoding/json"

	"github.com/qrinfo/hunt/internal/hunt"
)

const (
	TypeSession     = "session"
	TypePlayer      = "player"
	TypeLeaderboard = "leaderboard"
	TypeStats       = "stats"
	TypeReset       = "reset"
)

// Message is one change notification sent to feed subscribers.
type Message struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Feed delivers encoded Messages for one session to displays.
type Feed interface {
	// Subscribe returns a channel of JSON-encoded Messages and a function
	// that releases the subscription. Slow subscribers miss messages.
	Subscribe(ctx context.Context, sessionID string) (<-chan []byte, func(), error)
	// Snapshot returns the current projection as Messages, for a subscriber
	// that just connected.
	Snapshot(ctx context.Context, sessionID string) ([]Message, error)
}

// Channel is a hunt.LiveChannel that also serves a Feed.
type Channel interface {
	hunt.LiveChannel
	Feed
	Ping(ctx context.Context) error
}

func encode(typ, sessionID string, v any) ([]byte, error) {
	var data json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Message{Type: typ, SessionID: sessionID, Data: data})
}

// snapshot builds the catch-up messages for a new subscriber. Parts of the
// projection that were never published are left out.
func snapshot(sessionID string, state *hunt.SessionState, stats hunt.Stats, leaderboard []hunt.LeaderboardEntry) ([]Message, error) {
	var msgs []Message
	add := func(typ string, v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		msgs = append(msgs, Message{Type: typ, SessionID: sessionID, Data: data})
		return nil
	}
	if state != nil {
		if err := add(TypeSession, state); err != nil {
			return nil, err
		}
	}
	if err := add(TypeStats, stats); err != nil {
		return nil, err
	}
	if leaderboard != nil {
		if err := add(TypeLeaderboard, leaderboard); err != nil {
			return nil, err
		}
	}
	return msgs, nil
}
