// Package persistence keeps an in-memory operational log of session
// history — shares, unshares, and connection lifecycle events — queryable
// through SQL for the lifetime of the running process. It is not durable:
// the journal lives entirely in an in-memory SQLite database and is gone
// the moment the process exits, so it never becomes "other durable state"
// beyond the owner's on-disk file writes. It never backs document content
// either way: the CRDT text and the owner's on-disk file remain the only
// source of truth for a document's bytes.
package persistence

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// EventKind names what happened in one journal row.
type EventKind string

const (
	EventShare   EventKind = "share"
	EventUnshare EventKind = "unshare"
	EventJoin    EventKind = "join"
	EventLeave   EventKind = "leave"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_event (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	detail     TEXT NOT NULL,
	occurred_at INTEGER NOT NULL
);
`

// Journal wraps a SQLite connection holding the session_event table. The
// database lives entirely in process memory; nothing in it survives past
// Close or process exit.
type Journal struct {
	db *sql.DB
}

// Open creates a fresh in-memory SQLite database and migrates it. Each
// call returns an independent journal with no rows from any prior process
// or prior Open call — the journal is scoped to one running session.
func Open() (*Journal, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("persistence: open in-memory database: %w", err)
	}
	// An in-memory SQLite database is private to the connection that
	// created it; without this, database/sql's connection pool would hand
	// out a second, empty database to the next caller.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one event row. subject is a fileId or connection id,
// detail is a short human-readable description (file name, display name).
func (j *Journal) Record(kind EventKind, subject, detail string, occurredAtMillis int64) error {
	_, err := j.db.Exec(
		`INSERT INTO session_event (id, kind, subject, detail, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), string(kind), subject, detail, occurredAtMillis,
	)
	if err != nil {
		return fmt.Errorf("persistence: record %s event: %w", kind, err)
	}
	return nil
}

// Event is one row read back from the journal, newest first.
type Event struct {
	ID         string
	Kind       EventKind
	Subject    string
	Detail     string
	OccurredAt int64
}

// Recent returns up to limit of the most recent events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	rows, err := j.db.Query(
		`SELECT id, kind, subject, detail, occurred_at FROM session_event ORDER BY occurred_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("persistence: query recent events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var kind string
		if err := rows.Scan(&e.ID, &kind, &e.Subject, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("persistence: scan event row: %w", err)
		}
		e.Kind = EventKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
