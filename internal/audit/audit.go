// Package audit is a write-mostly SQLite event log of tunnel lifecycle
// events. It exists purely for operator visibility (the "status
// --history" view) — the daemon never reads it back on startup, since
// doing so to resurrect tunnel state would violate the "no durable
// state across daemon restarts" design constraint.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Event kinds recorded by the daemon.
const (
	EventOpenRequested = "open_requested"
	EventOpenSucceeded = "open_succeeded"
	EventOpenFailed    = "open_failed"
	EventTunnelKilled  = "tunnel_killed"
	EventTunnelDied    = "tunnel_died"
	EventSessionError  = "session_error"
)

// Log wraps a SQLite connection used to append tunnel events.
type Log struct {
	conn *sql.DB
}

// Open opens or creates the audit database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: enable WAL mode: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS tunnel_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		host TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_tunnel_events_timestamp ON tunnel_events(timestamp);
	`
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("audit: init schema: %w", err)
	}

	return &Log{conn: conn}, nil
}

// Close releases the underlying connection.
func (l *Log) Close() error {
	if l == nil || l.conn == nil {
		return nil
	}
	l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return l.conn.Close()
}

// Record appends one event. Best-effort: retries briefly on SQLITE_BUSY,
// otherwise returns the error for the caller to log (never treat as
// fatal to a session).
func (l *Log) Record(host, eventType, details string) error {
	if l == nil || l.conn == nil {
		return nil
	}

	const maxRetries = 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		_, err := l.conn.Exec(
			`INSERT INTO tunnel_events (host, event_type, details, timestamp) VALUES (?, ?, ?, ?)`,
			host, eventType, details, time.Now(),
		)
		if err == nil {
			return nil
		}
		lastErr = err
		if strings.Contains(err.Error(), "locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("audit: record event after %d attempts: %w", maxRetries, lastErr)
}

// Event is one row of the tunnel_events table.
type Event struct {
	ID        int64
	Host      string
	EventType string
	Details   string
	Timestamp time.Time
}

// Recent returns the most recent limit events, newest first.
func (l *Log) Recent(limit int) ([]Event, error) {
	if l == nil || l.conn == nil {
		return nil, nil
	}

	rows, err := l.conn.Query(
		`SELECT id, host, event_type, details, timestamp FROM tunnel_events ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Host, &e.EventType, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
