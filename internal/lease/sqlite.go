package lease

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ragaeeb/blackiya-sub001/internal/timer"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore persists leases in a SQLite database visible to every tab of
// the hosting runtime.
//
// The claim is a single conditional upsert, so two handles racing on the
// same database cannot both acquire: SQLite serializes the write and the
// WHERE clause re-evaluates expiry inside it.
type SQLiteStore struct {
	db    *sql.DB
	clock timer.Clock
}

// OpenSQLite creates or opens a lease database at the given path.
// Idempotent; applies WAL mode and the lease schema.
func OpenSQLite(path string, clock timer.Clock) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open lease store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect lease store: %w", err)
	}

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
		return nil, fmt.Errorf("apply lease schema: %w", err)
	}

	return &SQLiteStore{db: db, clock: clock}, nil
}

// Close closes the lease database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Claim implements Store.
//
// The upsert grants the lease when no row exists, the existing row is
// expired, or the caller already holds it (renewal). Otherwise the WHERE
// clause blocks the update, zero rows change, and the current holder is
// reported back.
func (s *SQLiteStore) Claim(ctx context.Context, conversationID, attemptID string, ttlMs int64) (Claim, error) {
	now := s.clock.NowMs()
	expires := now + ttlMs

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO probe_leases (conversation_id, owner_attempt_id, expires_at_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			owner_attempt_id = excluded.owner_attempt_id,
			expires_at_ms = excluded.expires_at_ms
		WHERE probe_leases.expires_at_ms <= ?
		   OR probe_leases.owner_attempt_id = excluded.owner_attempt_id
	`, conversationID, attemptID, expires, now)
	if err != nil {
		return Claim{}, fmt.Errorf("claim lease: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Claim{}, fmt.Errorf("claim lease: rows affected: %w", err)
	}
	if affected > 0 {
		return Claim{Acquired: true, OwnerAttemptID: attemptID, ExpiresAtMs: expires}, nil
	}

	// Lost the claim: report the live holder.
	var owner string
	var holderExpires int64
	err = s.db.QueryRowContext(ctx, `
		SELECT owner_attempt_id, expires_at_ms
		FROM probe_leases WHERE conversation_id = ?
	`, conversationID).Scan(&owner, &holderExpires)
	if errors.Is(err, sql.ErrNoRows) {
		// Holder released between the two statements; caller retries.
		return Claim{}, nil
	}
	if err != nil {
		return Claim{}, fmt.Errorf("read lease holder: %w", err)
	}
	return Claim{Acquired: false, OwnerAttemptID: owner, ExpiresAtMs: holderExpires}, nil
}

// Release implements Store. The DELETE is conditioned on ownership, so a
// stale caller cannot drop another holder's lease.
func (s *SQLiteStore) Release(ctx context.Context, conversationID, attemptID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM probe_leases
		WHERE conversation_id = ? AND owner_attempt_id = ?
	`, conversationID, attemptID)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
