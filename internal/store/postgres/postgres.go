// Package postgres provides the PostgreSQL-backed implementation of the
// ledger store contract for multi-host production deployments. The schema
// lives under db/migrations.
//
// # Canonical round-trip
//
// JSONB reorders object keys and TIMESTAMPTZ normalises precision, either
// of which would change the signed content. The payload column therefore
// stores the canonical payload bytes verbatim (BYTEA) and ts stores the
// canonical timestamp text, so every row re-hashes to exactly the bytes
// that were sealed.
//
// # Lease compare-and-set
//
// AcquireOrRenewLease is a single conditional upsert: the update fires only
// when the caller already holds the lease or the previous lease has
// expired, so mutual exclusion is enforced by the database rather than by
// client-side read-modify-write.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/store"
)

// pgUniqueViolation is the SQLSTATE class for unique constraint errors.
const pgUniqueViolation = "23505"

// Store is the PostgreSQL-backed store.Store. It is safe for concurrent
// use; all operations go through the shared pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pgxpool connection to connStr and pings the database.
func New(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Append persists e atomically. A sequence collision surfaces as
// store.ErrDuplicateSequence.
func (s *Store) Append(ctx context.Context, e entry.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ledger_entries
			(entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID,
		int64(e.Sequence),
		e.Timestamp.Format(entry.TimestampLayout),
		e.EventType,
		payloadBytes(e.Payload),
		e.PreviousHash,
		e.CurrentHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "ledger_entries_sequence_key" {
			return fmt.Errorf("postgres: append sequence %d: %w", e.Sequence, store.ErrDuplicateSequence)
		}
		return fmt.Errorf("postgres: append: %w", err)
	}
	return nil
}

// Head returns the entry with the maximum sequence, or (nil, nil) when the
// ledger is empty.
func (s *Store) Head(ctx context.Context) (*entry.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash
		FROM   ledger_entries
		ORDER  BY sequence DESC
		LIMIT  1`)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: head: %w", err)
	}
	return e, nil
}

// All returns every entry ordered by (sequence asc, entry_id asc).
func (s *Store) All(ctx context.Context) ([]entry.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash
		FROM   ledger_entries
		ORDER  BY sequence ASC, entry_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query all: %w", err)
	}
	defer rows.Close()

	var entries []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// GetByID returns the entry with the given ID, or store.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*entry.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT entry_id, sequence, ts, event_type, payload, prev_hash, curr_hash
		FROM   ledger_entries
		WHERE  entry_id = $1`, id)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: get %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", id, err)
	}
	return e, nil
}

// AcquireOrRenewLease grants or extends the lease through the conditional
// upsert described in the package comment. A live lease owned by a
// different holder returns store.ErrLeaseHeld.
func (s *Store) AcquireOrRenewLease(ctx context.Context, resource, holder string, ttl time.Duration) (store.Lease, error) {
	now := time.Now().UTC()
	l := store.Lease{
		Resource:      resource,
		Holder:        holder,
		ExpiresAt:     now.Add(ttl),
		LastHeartbeat: now,
	}

	var got string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO writer_leases (resource, holder, expires_at, last_heartbeat)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (resource) DO UPDATE SET
			holder         = EXCLUDED.holder,
			expires_at     = EXCLUDED.expires_at,
			last_heartbeat = EXCLUDED.last_heartbeat
		WHERE  writer_leases.holder = EXCLUDED.holder
		   OR  writer_leases.expires_at <= $4
		RETURNING resource`,
		l.Resource, l.Holder, l.ExpiresAt, l.LastHeartbeat,
	).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional update did not fire: someone else holds a live
		// lease.
		return store.Lease{}, fmt.Errorf("postgres: lease %q: %w", resource, store.ErrLeaseHeld)
	}
	if err != nil {
		return store.Lease{}, fmt.Errorf("postgres: lease upsert: %w", err)
	}
	return l, nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing shared scan
// helpers across single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one ledger_entries row.
func scanEntry(sc scanner) (*entry.Entry, error) {
	var (
		seq     int64
		tsStr   string
		payload []byte
		e       entry.Entry
	)
	if err := sc.Scan(&e.ID, &seq, &tsStr, &e.EventType, &payload, &e.PreviousHash, &e.CurrentHash); err != nil {
		return nil, err
	}
	e.Sequence = uint64(seq)

	var err error
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
