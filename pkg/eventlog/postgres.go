package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"

	_ "github.com/lib/pq"
)

// PostgresStore is the multi-node Store variant. Same table shape as the
// SQLite store with $n placeholders and row locking on the stream tail so
// concurrent appenders from separate processes still serialize.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle and runs migrations.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS events (
		instance_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		seq BIGINT NOT NULL,
		event_id TEXT NOT NULL UNIQUE,
		timestamp TIMESTAMPTZ NOT NULL,
		event_type TEXT NOT NULL,
		payload JSONB,
		previous_hash TEXT NOT NULL,
		event_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		PRIMARY KEY (instance_id, user_id, seq)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, st Stream, e contracts.Event) error {
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
	row := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM events
		WHERE instance_id = $1 AND user_id = $2 FOR UPDATE`,
		st.InstanceID, st.UserID)
	if err := row.Scan(&next); err != nil {
		return fmt.Errorf("eventlog: next seq: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (instance_id, user_id, seq, event_id, timestamp, event_type, payload, previous_hash, event_hash, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		st.InstanceID, st.UserID, next, e.ID, e.Timestamp.UTC(),
		string(e.EventType), string(payload), e.PreviousHash, e.EventHash, e.Signature)
	if err != nil {
		return fmt.Errorf("eventlog: insert: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) ReadAll(ctx context.Context, st Stream) ([]contracts.Event, error) {
	return s.query(ctx, `
		SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
		FROM events WHERE instance_id = $1 AND user_id = $2 ORDER BY seq`,
		st, st.InstanceID, st.UserID)
}

func (s *PostgresStore) ReadAfter(ctx context.Context, st Stream, afterID string, limit int) ([]contracts.Event, error) {
	if afterID == "" {
		if limit <= 0 {
			return s.ReadAll(ctx, st)
		}
		return s.query(ctx, `
			SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
			FROM events WHERE instance_id = $1 AND user_id = $2 ORDER BY seq LIMIT $3`,
			st, st.InstanceID, st.UserID, limit)
	}
	q := `
		SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
		FROM events WHERE instance_id = $1 AND user_id = $2
		  AND seq > (SELECT seq FROM events WHERE instance_id = $1 AND user_id = $2 AND event_id = $3)
		ORDER BY seq`
	if limit > 0 {
		return s.query(ctx, q+` LIMIT $4`, st, st.InstanceID, st.UserID, afterID, limit)
	}
	return s.query(ctx, q, st, st.InstanceID, st.UserID, afterID)
}

func (s *PostgresStore) Tail(ctx context.Context, st Stream) (*contracts.Event, error) {
	events, err := s.query(ctx, `
		SELECT event_id, timestamp, event_type, payload, previous_hash, event_hash, signature
		FROM events WHERE instance_id = $1 AND user_id = $2 ORDER BY seq DESC LIMIT 1`,
		st, st.InstanceID, st.UserID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (s *PostgresStore) query(ctx context.Context, q string, st Stream, args ...any) ([]contracts.Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []contracts.Event
	for rows.Next() {
		var e contracts.Event
		var ts time.Time
		var eventType string
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &ts, &eventType, &payload, &e.PreviousHash, &e.EventHash, &e.Signature); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.Timestamp = ts.UTC()
		e.EventType = contracts.EventType(eventType)
		e.InstanceID = st.InstanceID
		e.UserID = st.UserID
		if payload.Valid && payload.String != "" && payload.String != "null" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("eventlog: bad payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
