package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/qrinfo/hunt/internal/hunt"
)

// maxTxRetries bounds optimistic retries when another writer touches a
// watched key between WATCH and EXEC.
const maxTxRetries = 32

const (
	fieldPlayers  = "totalPlayers"
	fieldPlaying  = "playersPlaying"
	fieldFinished = "playersFinished"
	fieldTopScore = "topScore"
	fieldEvents   = "totalEvents"
)

// Redis keeps the projection in Redis and fans changes out over pub/sub,
// so any number of server instances share one view.
type Redis struct {
	rdb    *redis.Client
	prefix string
}

var _ Channel = (*Redis)(nil)

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: "hunt"}
}

func (r *Redis) key(sessionID, name string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, sessionID, name)
}

func (r *Redis) keys(sessionID string) []string {
	return []string{
		r.key(sessionID, "session"),
		r.key(sessionID, "stats"),
		r.key(sessionID, "leaderboard"),
		r.key(sessionID, "players"),
	}
}

func (r *Redis) channel(sessionID string) string {
	return r.key(sessionID, "events")
}

func (r *Redis) publish(ctx context.Context, typ, sessionID string, v any) error {
	data, err := encode(typ, sessionID, v)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel(sessionID), data).Err()
}

func (r *Redis) PublishSession(ctx context.Context, state hunt.SessionState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key(state.SessionID, "session"), data, 0).Err(); err != nil {
		return fmt.Errorf("storing session state: %w", err)
	}
	return r.publish(ctx, TypeSession, state.SessionID, state)
}

func (r *Redis) PublishPlayer(ctx context.Context, sessionID string, entry hunt.LeaderboardEntry) error {
	return r.publish(ctx, TypePlayer, sessionID, entry)
}

// watch runs txf under WATCH on keys, retrying while another writer wins.
func (r *Redis) watch(ctx context.Context, txf func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := r.rdb.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return redis.TxFailedErr
}

// RebuildLeaderboard runs build while watching the leaderboard. A rebuild or
// clear committed by another instance in between fails EXEC, and build runs
// again against newer state.
func (r *Redis) RebuildLeaderboard(ctx context.Context, sessionID string, build func(context.Context) ([]hunt.LeaderboardEntry, error)) ([]hunt.LeaderboardEntry, error) {
	boardKey := r.key(sessionID, "leaderboard")
	playersKey := r.key(sessionID, "players")
	var entries []hunt.LeaderboardEntry

	txf := func(tx *redis.Tx) error {
		var err error
		entries, err = build(ctx)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []hunt.LeaderboardEntry{}
		}
		board, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		fields := make(map[string]any, len(entries))
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			fields[e.PlayerID] = data
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, boardKey, board, 0)
			pipe.Del(ctx, playersKey)
			if len(fields) > 0 {
				pipe.HSet(ctx, playersKey, fields)
			}
			return nil
		})
		return err
	}

	if err := r.watch(ctx, txf, boardKey); err != nil {
		return nil, fmt.Errorf("rebuilding leaderboard: %w", err)
	}
	return entries, r.publish(ctx, TypeLeaderboard, sessionID, entries)
}

// AdjustStats resolves d with WATCH/MULTI so concurrent adjustments from
// several instances never lose an update.
func (r *Redis) AdjustStats(ctx context.Context, sessionID string, d hunt.StatsDelta) (hunt.Stats, error) {
	key := r.key(sessionID, "stats")
	var out hunt.Stats

	txf := func(tx *redis.Tx) error {
		vals, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		out, err = d.Resolve(ctx, parseStats(vals))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, statsFields(out))
			return nil
		})
		return err
	}

	if err := r.watch(ctx, txf, key); err != nil {
		return hunt.Stats{}, fmt.Errorf("adjusting stats: %w", err)
	}
	return out, r.publish(ctx, TypeStats, sessionID, out)
}

func (r *Redis) SetStats(ctx context.Context, sessionID string, s hunt.Stats) error {
	if err := r.rdb.HSet(ctx, r.key(sessionID, "stats"), statsFields(s)).Err(); err != nil {
		return fmt.Errorf("setting stats: %w", err)
	}
	return r.publish(ctx, TypeStats, sessionID, s)
}

func (r *Redis) Stats(ctx context.Context, sessionID string) (hunt.Stats, error) {
	vals, err := r.rdb.HGetAll(ctx, r.key(sessionID, "stats")).Result()
	if err != nil {
		return hunt.Stats{}, fmt.Errorf("reading stats: %w", err)
	}
	return parseStats(vals), nil
}

func (r *Redis) Clear(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, r.keys(sessionID)...).Err(); err != nil {
		return fmt.Errorf("clearing projection: %w", err)
	}
	return r.publish(ctx, TypeReset, sessionID, nil)
}

func (r *Redis) Player(ctx context.Context, sessionID, playerID string) (hunt.LeaderboardEntry, bool, error) {
	data, err := r.rdb.HGet(ctx, r.key(sessionID, "players"), playerID).Bytes()
	if errors.Is(err, redis.Nil) {
		return hunt.LeaderboardEntry{}, false, nil
	}
	if err != nil {
		return hunt.LeaderboardEntry{}, false, fmt.Errorf("reading player entry: %w", err)
	}
	var e hunt.LeaderboardEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return hunt.LeaderboardEntry{}, false, err
	}
	return e, true, nil
}

func (r *Redis) Subscribe(ctx context.Context, sessionID string) (<-chan []byte, func(), error) {
	ps := r.rdb.Subscribe(ctx, r.channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribing: %w", err)
	}

	out := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					// Drop if subscriber is slow.
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}, nil
}

func (r *Redis) Snapshot(ctx context.Context, sessionID string) ([]Message, error) {
	pipe := r.rdb.Pipeline()
	stateCmd := pipe.Get(ctx, r.key(sessionID, "session"))
	statsCmd := pipe.HGetAll(ctx, r.key(sessionID, "stats"))
	boardCmd := pipe.Get(ctx, r.key(sessionID, "leaderboard"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading projection: %w", err)
	}

	var state *hunt.SessionState
	if data, err := stateCmd.Bytes(); err == nil {
		state = &hunt.SessionState{}
		if err := json.Unmarshal(data, state); err != nil {
			return nil, err
		}
	}
	var leaderboard []hunt.LeaderboardEntry
	if data, err := boardCmd.Bytes(); err == nil {
		if err := json.Unmarshal(data, &leaderboard); err != nil {
			return nil, err
		}
	}
	return snapshot(sessionID, state, parseStats(statsCmd.Val()), leaderboard)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func statsFields(s hunt.Stats) map[string]any {
	return map[string]any{
		fieldPlayers:  s.TotalPlayers,
		fieldPlaying:  s.PlayersPlaying,
		fieldFinished: s.PlayersFinished,
		fieldTopScore: s.TopScore,
		fieldEvents:   s.TotalEvents,
	}
}

func parseStats(vals map[string]string) hunt.Stats {
	n := func(field string) int {
		v, _ := strconv.Atoi(vals[field])
		return v
	}
	return hunt.Stats{
		TotalPlayers:    n(fieldPlayers),
		PlayersPlaying:  n(fieldPlaying),
		PlayersFinished: n(fieldFinished),
		TopScore:        n(fieldTopScore),
		TotalEvents:     n(fieldEvents),
	}
}
