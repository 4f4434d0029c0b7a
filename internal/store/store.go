// Package store defines the persistence contract the ledger core depends
// on. Implementations must provide durable, atomic appends with sequence
// uniqueness, ordered scans, and an exclusive lease primitive used to elect
// the single writer across process restarts.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/provance/ledger/internal/entry"
)

// Error kinds every implementation must surface. Callers classify with
// errors.Is; anything else is treated as transient and retried by the
// writer.
var (
	// ErrDuplicateSequence reports an append whose sequence already exists.
	// The writer treats this as fatal: it means a second writer is active
	// or the store violated uniqueness.
	ErrDuplicateSequence = errors.New("store: duplicate sequence")

	// ErrNotFound reports a lookup for an entry that does not exist.
	ErrNotFound = errors.New("store: entry not found")

	// ErrLeaseHeld reports that the requested lease is currently owned by a
	// different holder and has not expired.
	ErrLeaseHeld = errors.New("store: lease held by another worker")
)

// Lease is the coordination record for the exclusive writer role. One row
// exists per resource; updates follow compare-and-set semantics on
// (resource, holder | expiry).
type Lease struct {
	// Resource names the guarded role, e.g. "ledger_writer_lock_v1".
	Resource string

	// Holder is the worker ID currently owning the lease.
	Holder string

	// ExpiresAt is the instant the lease lapses unless renewed.
	ExpiresAt time.Time

	// LastHeartbeat is the instant of the most recent acquire or renewal.
	LastHeartbeat time.Time
}

// Store is the ledger persistence contract.
//
// Implementations must guarantee durability of appended entries, uniqueness
// of Sequence within the ledger, stable (sequence asc, id asc) ordering from
// All regardless of insertion order, and mutual exclusion of leases over
// their declared duration.
type Store interface {
	// Append persists e atomically. A sequence collision must surface as
	// ErrDuplicateSequence.
	Append(ctx context.Context, e entry.Entry) error

	// Head returns the entry with the maximum sequence, or (nil, nil) when
	// the ledger is empty.
	Head(ctx context.Context) (*entry.Entry, error)

	// All returns every entry ordered by (sequence asc, id asc).
	All(ctx context.Context) ([]entry.Entry, error)

	// GetByID returns the entry with the given ID, or ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*entry.Entry, error)

	// AcquireOrRenewLease grants the lease on resource to holder for ttl,
	// or extends it when holder already owns it, or takes it over when the
	// previous lease has expired. A live lease owned by someone else
	// returns ErrLeaseHeld.
	AcquireOrRenewLease(ctx context.Context, resource, holder string, ttl time.Duration) (Lease, error)
}
