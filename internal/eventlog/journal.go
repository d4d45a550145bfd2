package eventlog

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ragaeeb/blackiya-sub001/internal/timer"
)

//go:embed schema.sql
var schemaSQL string

// Journal persists events to SQLite for post-hoc debugging.
//
// Emissions carrying a dedupe key are stored at most once; repeats are
// silently dropped via ON CONFLICT DO NOTHING, matching the Sink contract.
// Journal write failures are logged and swallowed: observability must never
// disturb engine state.
type Journal struct {
	db    *sql.DB
	clock timer.Clock
}

// OpenJournal creates or opens a journal database at the given path.
//
// The database is configured with WAL mode for concurrent reads, NORMAL
// synchronous mode, and a 5-second busy timeout. Idempotent: safe to call
// against an existing journal.
func OpenJournal(path string, clock timer.Clock) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect journal: %w", err)
	}

	// Single writer avoids SQLITE_BUSY under concurrent emissions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}

	return &Journal{db: db, clock: clock}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit stores the event. Implements Sink.
func (j *Journal) Emit(e Event) {
	payloadJSON := []byte("{}")
	if len(e.Payload) > 0 {
		b, err := json.Marshal(e.Payload)
		if err != nil {
			slog.Warn("journal payload marshal failed", "event", e.Event, "error", err)
		} else {
			payloadJSON = b
		}
	}

	// Empty dedupe keys become NULL so they never collide with each other.
	var dedupe sql.NullString
	if e.DedupeKey != "" {
		dedupe = sql.NullString{String: e.DedupeKey, Valid: true}
	}

	_, err := j.db.Exec(`
		INSERT INTO events
		(attempt_id, level, event, message, payload, dedupe_key, recorded_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dedupe_key) DO NOTHING
	`,
		e.AttemptID,
		e.Level.String(),
		e.Event,
		e.Message,
		string(payloadJSON),
		dedupe,
		j.clock.NowMs(),
	)
	if err != nil {
		slog.Warn("journal write failed", "event", e.Event, "error", err)
	}
}

// CountByAttempt returns the number of journaled rows for an attempt.
// Used for diagnostics and tests.
func (j *Journal) CountByAttempt(attemptID string) (int, error) {
	var n int
	err := j.db.QueryRow(
		`SELECT COUNT(*) FROM events WHERE attempt_id = ?`, attemptID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
