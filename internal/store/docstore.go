// Package store is the durable system of record for hunt sessions: session
// and player documents kept as JSONB in libSQL, plus the append-only
// progress event log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/qrinfo/hunt/internal/hunt"
)

const timeFormat = time.RFC3339Nano

// DocStore implements hunt.SessionStore using per-model tables with JSONB
// data columns. Write transactions are serialised in process so SQLite never
// has to upgrade two competing read locks.
type DocStore struct {
	db *sql.DB
	mu sync.Mutex
}

var _ hunt.SessionStore = (*DocStore)(nil)

func NewDocStore(db *sql.DB) *DocStore {
	return &DocStore{db: db}
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// getDoc loads the raw JSON of a single document.
func getDoc(ctx context.Context, q querier, query string, args ...any) (string, error) {
	var data string
	err := q.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", hunt.ErrNotFound
	}
	return data, err
}

// write runs fn in a transaction and commits it unless fn fails.
// hunt.ErrSkipWrite rolls back and reports success.
func (s *DocStore) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, hunt.ErrSkipWrite) {
			return nil
		}
		return err
	}
	return tx.Commit()
}

// Sessions

const selectSession = `SELECT json(data) FROM sessions WHERE id = ?`

func loadSession(ctx context.Context, q querier, sessionID string) (hunt.Session, error) {
	data, err := getDoc(ctx, q, selectSession, sessionID)
	if err != nil {
		return hunt.Session{}, err
	}
	var sess hunt.Session
	err = json.Unmarshal([]byte(data), &sess)
	return sess, err
}

func (s *DocStore) GetSession(ctx context.Context, sessionID string) (hunt.Session, error) {
	return loadSession(ctx, s.db, sessionID)
}

func putSession(ctx context.Context, tx *sql.Tx, sess hunt.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, phase, data) VALUES (?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET phase = excluded.phase, data = excluded.data`,
		sess.ID, string(sess.Phase), string(data),
	)
	return err
}

func (s *DocStore) UpsertSession(ctx context.Context, sessionID string, fn func(*hunt.Session, bool) error) (hunt.Session, error) {
	var out hunt.Session
	err := s.write(ctx, func(tx *sql.Tx) error {
		data, err := getDoc(ctx, tx, selectSession, sessionID)
		exists := err == nil
		if err != nil && !errors.Is(err, hunt.ErrNotFound) {
			return err
		}
		if exists {
			if err := json.Unmarshal([]byte(data), &out); err != nil {
				return err
			}
		}

		sess := out
		if err := fn(&sess, exists); err != nil {
			return err
		}
		sess.ID = sessionID
		if err := putSession(ctx, tx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

// ModifySession loads a session, applies fn, and saves it in a transaction.
func (s *DocStore) ModifySession(ctx context.Context, sessionID string, fn func(*hunt.Session) error) (hunt.Session, error) {
	var out hunt.Session
	err := s.write(ctx, func(tx *sql.Tx) error {
		data, err := getDoc(ctx, tx, selectSession, sessionID)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return err
		}

		sess := out
		if err := fn(&sess); err != nil {
			return err
		}
		if err := putSession(ctx, tx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

// ListSessionIDs returns the ids of sessions in phase, or of every session
// when phase is empty.
func (s *DocStore) ListSessionIDs(ctx context.Context, phase hunt.Phase) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM sessions WHERE ? = '' OR phase = ? ORDER BY id`,
		string(phase), string(phase),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Players

const selectPlayer = `SELECT json(data) FROM players WHERE session_id = ? AND id = ?`

func (s *DocStore) GetPlayer(ctx context.Context, sessionID, playerID string) (hunt.Player, error) {
	data, err := getDoc(ctx, s.db, selectPlayer, sessionID, playerID)
	if err != nil {
		return hunt.Player{}, err
	}
	var p hunt.Player
	err = json.Unmarshal([]byte(data), &p)
	return p, err
}

func putPlayer(ctx context.Context, tx *sql.Tx, p hunt.Player) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO players (session_id, id, team_id, assigned_type, data) VALUES (?, ?, ?, ?, jsonb(?))
		 ON CONFLICT(session_id, id) DO UPDATE SET team_id = excluded.team_id, assigned_type = excluded.assigned_type, data = excluded.data`,
		p.SessionID, p.ID, p.TeamID, p.AssignedType, string(data),
	)
	return err
}

func (s *DocStore) CreatePlayer(ctx context.Context, p hunt.Player) (hunt.Player, bool, error) {
	out := p
	created := false
	err := s.write(ctx, func(tx *sql.Tx) error {
		data, err := getDoc(ctx, tx, selectPlayer, p.SessionID, p.ID)
		if err == nil {
			return json.Unmarshal([]byte(data), &out)
		}
		if !errors.Is(err, hunt.ErrNotFound) {
			return err
		}
		if err := putPlayer(ctx, tx, p); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return hunt.Player{}, false, err
	}
	return out, created, nil
}

// ModifyPlayer passes fn the session as of the same transaction. Changes fn
// makes to the session are discarded.
func (s *DocStore) ModifyPlayer(ctx context.Context, sessionID, playerID string, fn func(*hunt.Session, *hunt.Player) ([]hunt.ProgressEvent, error)) (hunt.Player, error) {
	var out hunt.Player
	err := s.write(ctx, func(tx *sql.Tx) error {
		sess, err := loadSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		data, err := getDoc(ctx, tx, selectPlayer, sessionID, playerID)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return err
		}

		var p hunt.Player
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return err
		}
		events, err := fn(&sess, &p)
		if err != nil {
			return err
		}
		if err := putPlayer(ctx, tx, p); err != nil {
			return err
		}
		for _, ev := range events {
			if err := insertEvent(ctx, tx, ev); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	return out, err
}

func (s *DocStore) DeletePlayer(ctx context.Context, sessionID, playerID string) (hunt.Player, error) {
	var out hunt.Player
	err := s.write(ctx, func(tx *sql.Tx) error {
		data, err := getDoc(ctx, tx, selectPlayer, sessionID, playerID)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM players WHERE session_id = ? AND id = ?`, sessionID, playerID,
		)
		return err
	})
	return out, err
}

// ListPlayers returns the session's players in registration order.
func (s *DocStore) ListPlayers(ctx context.Context, sessionID string) ([]hunt.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json(data) FROM players WHERE session_id = ? ORDER BY rowid`, sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []hunt.Player{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var p hunt.Player
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// CountAssignedTypes counts players per assigned type, restricted to teamID
// unless it is empty.
func (s *DocStore) CountAssignedTypes(ctx context.Context, sessionID, teamID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT assigned_type, COUNT(*) FROM players
		 WHERE session_id = ? AND assigned_type != '' AND (? = '' OR team_id = ?)
		 GROUP BY assigned_type`,
		sessionID, teamID, teamID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

// Progress events

func insertEvent(ctx context.Context, tx *sql.Tx, ev hunt.ProgressEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO progress_events (id, session_id, player_id, target_id, delta, scanned_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.PlayerID, ev.TargetID, ev.Delta, ev.ScannedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

func (s *DocStore) CountEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM progress_events WHERE session_id = ?`, sessionID,
	).Scan(&n)
	return n, err
}

// ListEvents returns a player's accepted scans, oldest first.
func (s *DocStore) ListEvents(ctx context.Context, sessionID, playerID string) ([]hunt.ProgressEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, delta, scanned_at FROM progress_events
		 WHERE session_id = ? AND player_id = ? ORDER BY rowid`,
		sessionID, playerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []hunt.ProgressEvent{}
	for rows.Next() {
		ev := hunt.ProgressEvent{SessionID: sessionID, PlayerID: playerID}
		var scannedAt string
		if err := rows.Scan(&ev.ID, &ev.TargetID, &ev.Delta, &scannedAt); err != nil {
			return nil, err
		}
		if ev.ScannedAt, err = time.Parse(timeFormat, scannedAt); err != nil {
			return nil, fmt.Errorf("parsing scanned_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *DocStore) ResetSession(ctx context.Context, sessionID string, fn func(*hunt.Session) error) (hunt.Session, error) {
	var out hunt.Session
	err := s.write(ctx, func(tx *sql.Tx) error {
		data, err := getDoc(ctx, tx, selectSession, sessionID)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(data), &out); err != nil {
			return err
		}

		for _, q := range []string{
			`DELETE FROM progress_events WHERE session_id = ?`,
			`DELETE FROM players WHERE session_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, sessionID); err != nil {
				return err
			}
		}

		sess := out
		if err := fn(&sess); err != nil {
			return err
		}
		if err := putSession(ctx, tx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}
