package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists streams in a single SQLite database. The primary
// key is (instance_id, user_id, seq): a key-ordered store per the stream
// layout, with sequence assignment inside the insert transaction.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database handle and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open sqlite: %w", err)
	}
	// Single writer keeps the chain well-defined at the storage layer too.
	db.SetMaxOpenConns(1)
	return NewSQLiteStore(db)
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		instance_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		event_id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload JSON,
		previous_hash TEXT NOT NULL,
		event_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		PRIMARY KEY (instance_id, user_id, seq)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, st Stream, e contracts.Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("eventlog: marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventlog: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var next int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE instance_id = ? AND user_id = ?`,
		st.InstanceID, st.UserID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("eventlog: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (instance_id, user_id, seq, event_id, timestamp, event_type, payload, previous_hash, event_hash, signature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.InstanceID, st.UserID, next, e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano), string(e.EventType),
		string(payload), e.PreviousHash, e.EventHash, e.Signature)
	if err != nil {
		return fmt.Errorf("eventlog: insert: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ReadAll(ctx context.Context, st Stream) ([]contracts.Event, error) {
	return s.query(ctx, `
		SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
		FROM events WHERE instance_id = ? AND user_id = ? ORDER BY seq`,
		st, st.InstanceID, st.UserID)
}

func (s *SQLiteStore) ReadAfter(ctx context.Context, st Stream, afterID string, limit int) ([]contracts.Event, error) {
	if afterID == "" {
		if limit <= 0 {
			return s.ReadAll(ctx, st)
		}
		return s.query(ctx, `
			SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
			FROM events WHERE instance_id = ? AND user_id = ? ORDER BY seq LIMIT ?`,
			st, st.InstanceID, st.UserID, limit)
	}
	if limit <= 0 {
		limit = -1
	}
	return s.query(ctx, `
		SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
		FROM events WHERE instance_id = ? AND user_id = ?
		  AND seq > (SELECT seq FROM events WHERE instance_id = ? AND user_id = ? AND event_id = ?)
		ORDER BY seq LIMIT ?`,
		st, st.InstanceID, st.UserID, st.InstanceID, st.UserID, afterID, limit)
}

func (s *SQLiteStore) Tail(ctx context.Context, st Stream) (*contracts.Event, error) {
	events, err := s.query(ctx, `
		SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
		FROM events WHERE instance_id = ? AND user_id = ? ORDER BY seq DESC LIMIT 1`,
		st, st.InstanceID, st.UserID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, st Stream, args ...any) ([]contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []contracts.Event
	for rows.Next() {
		var e contracts.Event
		var ts, eventType, payload string
		if err := rows.Scan(&e.ID, &ts, &eventType, &payload, &e.PreviousHash, &e.EventHash, &e.Signature); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("eventlog: bad timestamp: %w", err)
		}
		e.EventType = contracts.EventType(eventType)
		e.InstanceID = st.InstanceID
		e.UserID = st.UserID
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
				return nil, fmt.Errorf("eventlog: bad payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
