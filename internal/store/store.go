// Package store persists session events in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/muurk/rotlink/internal/logging"
	"github.com/muurk/rotlink/internal/session"
	"go.uber.org/zap"
)

// EventStore records session events. It is a session.Listener.
type EventStore struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*EventStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &EventStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *EventStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		session_id TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		remote_addr TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_username ON events(username, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record stores e.
func (s *EventStore) Record(e session.Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO events (kind, session_id, username, remote_addr, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.Kind), e.SessionID, e.Username, e.RemoteAddr, e.Text, e.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// HandleEvent records e, logging failures.
func (s *EventStore) HandleEvent(e session.Event) {
	if err := s.Record(e); err != nil {
		logging.Error("Failed to store event",
			zap.String("kind", string(e.Kind)),
			zap.String("session_id", e.SessionID),
			zap.Error(err),
		)
	}
}

// Recent returns up to limit events, newest first. An empty username
// returns events for everyone.
func (s *EventStore) Recent(username string, limit int) ([]session.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT kind, session_id, username, remote_addr, payload, created_at FROM events`
	args := []any{}
	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []session.Event
	for rows.Next() {
		var (
			e    session.Event
			kind string
			at   int64
		)
		if err := rows.Scan(&kind, &e.SessionID, &e.Username, &e.RemoteAddr, &e.Text, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Kind = session.EventKind(kind)
		e.At = time.Unix(0, at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}
