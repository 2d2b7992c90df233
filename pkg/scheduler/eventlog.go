package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"droidpilot/pkg/protocol"
)

// OpenDB opens the scheduler's SQLite event database with WAL journaling and
// a 5-second busy timeout, and applies the events schema.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, protocol.SchemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema on %s: %w", path, err)
	}
	return db, nil
}

// EventLog records scheduler events. A nil EventLog discards everything, so
// policies never have to check whether auditing is configured.
type EventLog struct {
	db *sql.DB
}

// NewEventLog wraps an open database.
func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

// Log inserts one event row. Insert failures are logged and swallowed; the
// audit trail never blocks scheduling.
func (l *EventLog) Log(ctx context.Context, eventType, source, device, workerID, payload string) {
	if l == nil || l.db == nil {
		return
	}
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO events (type, source, device, worker_id, payload) VALUES (?, ?, ?, ?, ?)",
		eventType, source, device, workerID, payload)
	if err != nil {
		slog.Error("event log insert failed", "type", eventType, "err", err)
	}
}
