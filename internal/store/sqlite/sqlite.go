// Package sqlite provides a WAL-mode SQLite-backed implementation of the
// ledger store contract, suitable for embedded and single-host deployments.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL. Within one Store
// the pool holds a single connection, so reads and the writer's appends
// are serialised through it rather than running concurrently.
//
// # Durability
//
// PRAGMA synchronous = FULL is kept (not relaxed to NORMAL) because an
// acknowledged AddEntry promises durable persistence; losing an acked audit
// entry to an OS crash would break the strong-ack contract.
//
// # Canonical round-trip
//
// SQLite cannot preserve JSON key order natively, so the payload column
// stores the canonical payload bytes verbatim and the timestamp column
// stores the canonical text form. Reading a row back therefore reproduces
// the exact signed content.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/store"
)

// Store is a SQLite-backed store.Store. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// ddl is the schema, kept here to keep the package self-contained. The
// UNIQUE constraint on sequence is what turns a racing second writer into a
// detectable duplicate-sequence error.
const ddl = `
CREATE TABLE IF NOT EXISTS ledger_entries (
    entry_id   TEXT    NOT NULL PRIMARY KEY,
    sequence   INTEGER NOT NULL UNIQUE,
    ts         TEXT    NOT NULL,
    event_type TEXT    NOT NULL,
    payload    BLOB    NOT NULL,
    prev_hash  TEXT    NOT NULL,
    curr_hash  TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS writer_leases (
    resource       TEXT NOT NULL PRIMARY KEY,
    holder         TEXT NOT NULL,
    expires_at     TEXT NOT NULL,
    last_heartbeat TEXT NOT NULL
);
`

// New opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. If path is ":memory:", an in-memory
// database is used; suitable for tests but lost on Close.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. Limiting the pool to a
	// single connection avoids "database is locked" errors; every call
	// serialises through this connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = FULL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set synchronous = FULL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Append persists e in a single INSERT. A sequence collision surfaces as
// store.ErrDuplicateSequence.
func (s *Store) Append(ctx context.Context, e entry.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		e.Sequence,
		e.Timestamp.Format(entry.TimestampLayout),
		e.EventType,
		payloadBytes(e.Payload),
		e.PreviousHash,
		e.CurrentHash,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: ledger_entries.sequence") {
			return fmt.Errorf("sqlite: append sequence %d: %w", e.Sequence, store.ErrDuplicateSequence)
		}
		return fmt.Errorf("sqlite: append: %w", err)
	}
	return nil
}

// Head returns the entry with the maximum sequence, or (nil, nil) when the
// ledger is empty.
func (s *Store) Head(ctx context.Context) (*entry.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash
		FROM   ledger_entries
		ORDER  BY sequence DESC
		LIMIT  1`)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: head: %w", err)
	}
	return e, nil
}

// All returns every entry ordered by (sequence asc, entry_id asc).
func (s *Store) All(ctx context.Context) ([]entry.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash
		FROM   ledger_entries
		ORDER  BY sequence ASC, entry_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query all: %w", err)
	}
	defer rows.Close()

	var entries []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// GetByID returns the entry with the given ID, or store.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*entry.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash
		FROM   ledger_entries
		WHERE  entry_id = ?`, id.String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s: %w", id, err)
	}
	return e, nil
}

// AcquireOrRenewLease grants or extends the lease on resource inside a
// transaction, so the read-check-write is atomic on the single connection.
func (s *Store) AcquireOrRenewLease(ctx context.Context, resource, holder string, ttl time.Duration) (store.Lease, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Lease{}, fmt.Errorf("sqlite: lease begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := time.Now().UTC()

	var curHolder, curExpires string
	err = tx.QueryRowContext(ctx,
		`SELECT holder, expires_at FROM writer_leases WHERE resource = ?`, resource,
	).Scan(&curHolder, &curExpires)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Unclaimed: fall through to the upsert.
	case err != nil:
		return store.Lease{}, fmt.Errorf("sqlite: lease read: %w", err)
	default:
		expires, perr := time.Parse(time.RFC3339Nano, curExpires)
		if perr != nil {
			return store.Lease{}, fmt.Errorf("sqlite: lease expiry %q: %w", curExpires, perr)
		}
		if curHolder != holder && expires.After(now) {
			return store.Lease{}, fmt.Errorf("sqlite: lease %q owned by %s until %s: %w",
				resource, curHolder, curExpires, store.ErrLeaseHeld)
		}
	}

	l := store.Lease{
		Resource:      resource,
		Holder:        holder,
		ExpiresAt:     now.Add(ttl),
		LastHeartbeat: now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO writer_leases (resource, holder, expires_at, last_heartbeat)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (resource) DO UPDATE SET
			holder         = excluded.holder,
			expires_at     = excluded.expires_at,
			last_heartbeat = excluded.last_heartbeat`,
		l.Resource, l.Holder,
		l.ExpiresAt.Format(time.RFC3339Nano),
		l.LastHeartbeat.Format(time.RFC3339Nano),
	)
	if err != nil {
		return store.Lease{}, fmt.Errorf("sqlite: lease upsert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return store.Lease{}, fmt.Errorf("sqlite: lease commit: %w", err)
	}
	return l, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner is satisfied by both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one ledger_entries row.
func scanEntry(sc scanner) (*entry.Entry, error) {
	var (
		idStr   string
		tsStr   string
		payload []byte
		e       entry.Entry
	)
	if err := sc.Scan(&idStr, &e.Sequence, &tsStr, &e.EventType, &payload, &e.PreviousHash, &e.CurrentHash); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("parse entry_id %q: %w", idStr, err)
	}
	e.ID = id

	e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return nil, fmt.Errorf("parse ts %q: %w", tsStr, err)
	}

	if string(payload) != "null" {
		m, err := canonical.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		e.Payload = m
	}
	return &e, nil
}

// payloadBytes renders the canonical payload column value.
func payloadBytes(m *canonical.Map) []byte {
	if m == nil {
		return []byte("null")
	}
	return canonical.Encode(m)
}
