package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit events to a SQLite table so the stream survives
// restarts and can be indexed externally.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink wraps the given database handle and applies the schema
// migration.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSink) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		subject TEXT NOT NULL,
		amount INTEGER NOT NULL DEFAULT 0,
		timestamp TEXT NOT NULL,
		metadata JSON
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSink) Record(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	metaJSON, _ := json.Marshal(ev.Metadata)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, event_type, actor, subject, amount, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.Actor, ev.Subject, int64(ev.Amount),
		ev.Timestamp.UTC().Format(time.RFC3339Nano), string(metaJSON),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first.
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, actor, subject, amount, timestamp, metadata
		 FROM audit_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var (
			ev       Event
			evType   string
			amount   int64
			ts       string
			metaJSON sql.NullString
		)
		if err := rows.Scan(&ev.ID, &evType, &ev.Actor, &ev.Subject, &amount, &ts, &metaJSON); err != nil {
			return nil, err
		}
		ev.Type = EventType(evType)
		ev.Amount = uint64(amount)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &ev.Metadata)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
