package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Summary counts recorded events per type and cause.
type Summary struct {
	Type  string `json:"type"`
	Cause string `json:"cause"`
	Count int64  `json:"count"`
}

// SQLStore persists events to SQLite or MySQL.
type SQLStore struct {
	db           *sql.DB
	driver       string
	queryTimeout time.Duration
}

var schemas = map[string]string{
	"sqlite": `
CREATE TABLE IF NOT EXISTS dashboard_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  batch_id TEXT NOT NULL DEFAULT '',
  position INTEGER NOT NULL DEFAULT 0,
  endpoint TEXT NOT NULL DEFAULT '',
  cause TEXT NOT NULL DEFAULT '',
  reason TEXT NOT NULL DEFAULT '',
  duration_ms INTEGER NOT NULL DEFAULT 0,
  occurred_at DATETIME NOT NULL
);`,
	"mysql": `
CREATE TABLE IF NOT EXISTS dashboard_events (
  id CHAR(36) PRIMARY KEY,
  event_type VARCHAR(64) NOT NULL,
  batch_id VARCHAR(64) NOT NULL DEFAULT '',
  position INT NOT NULL DEFAULT 0,
  endpoint VARCHAR(255) NOT NULL DEFAULT '',
  cause VARCHAR(64) NOT NULL DEFAULT '',
  reason TEXT NOT NULL,
  duration_ms BIGINT NOT NULL DEFAULT 0,
  occurred_at DATETIME(6) NOT NULL,
  KEY idx_de_type_cause (event_type, cause),
  KEY idx_de_batch (batch_id)
);`,
}

// NewSQLiteStore opens (and creates) an event store at path.
func NewSQLiteStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return newSQLStore(db, "sqlite", 5*time.Second)
}

// NewMySQLStore opens an event store on a MySQL server.
func NewMySQLStore(dsn string, queryTimeout time.Duration) (*SQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	return newSQLStore(db, "mysql", queryTimeout)
}

func newSQLStore(db *sql.DB, driver string, queryTimeout time.Duration) (*SQLStore, error) {
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schemas[driver]); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s event schema: %w", driver, err)
	}
	if driver == "sqlite" {
		if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_de_type_cause ON dashboard_events(event_type, cause);`); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &SQLStore{db: db, driver: driver, queryTimeout: queryTimeout}, nil
}

func (s *SQLStore) Driver() string {
	return s.driver
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Record(ctx context.Context, ev Event) error {
	ev = stamp(ev)
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO dashboard_events (id, event_type, batch_id, position, endpoint, cause, reason, duration_ms, occurred_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`, ev.ID.String(), ev.Type, ev.BatchID, ev.Position, ev.Endpoint, ev.Cause, ev.Reason, ev.DurationMS, ev.OccurredAt)
	return err
}

// Recent returns the newest events first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT id, event_type, batch_id, position, endpoint, cause, reason, duration_ms, occurred_at
FROM dashboard_events
ORDER BY occurred_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0, limit)
	for rows.Next() {
		var ev Event
		var id string
		if err := rows.Scan(&id, &ev.Type, &ev.BatchID, &ev.Position, &ev.Endpoint, &ev.Cause, &ev.Reason, &ev.DurationMS, &ev.OccurredAt); err != nil {
			return nil, err
		}
		if err := ev.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Summary groups all events by type and cause.
func (s *SQLStore) Summary(ctx context.Context) ([]Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
SELECT event_type, cause, COUNT(*)
FROM dashboard_events
GROUP BY event_type, cause
ORDER BY event_type, cause;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Summary, 0)
	for rows.Next() {
		var item Summary
		if err := rows.Scan(&item.Type, &item.Cause, &item.Count); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
