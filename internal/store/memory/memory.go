// Package memory provides the reference in-memory implementation of the
// ledger store contract: an ordered slice guarded by a mutex plus a lease
// map keyed by resource name. It is intended for tests and development; it
// is durable only for the lifetime of the process.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/store"
)

// Store is an in-memory store.Store. The zero value is not usable; create
// one with New. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries []entry.Entry
	bySeq   map[uint64]struct{}
	byID    map[uuid.UUID]int
	leases  map[string]store.Lease
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		bySeq:  make(map[uint64]struct{}),
		byID:   make(map[uuid.UUID]int),
		leases: make(map[string]store.Lease),
	}
}

// Append stores a copy of e. A sequence collision returns
// store.ErrDuplicateSequence.
func (s *Store) Append(ctx context.Context, e entry.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySeq[e.Sequence]; exists {
		return fmt.Errorf("memory: append sequence %d: %w", e.Sequence, store.ErrDuplicateSequence)
	}
	s.bySeq[e.Sequence] = struct{}{}
	s.byID[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return nil
}

// Head returns a copy of the entry with the maximum sequence, or (nil, nil)
// when empty.
func (s *Store) Head(ctx context.Context) (*entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.entries) == 0 {
		return nil, nil
	}
	head := s.entries[0]
	for _, e := range s.entries[1:] {
		if e.Sequence > head.Sequence {
			head = e
		}
	}
	return &head, nil
}

// All returns copies of every entry ordered by (sequence asc, id asc).
func (s *Store) All(ctx context.Context) ([]entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]entry.Entry, len(s.entries))
	copy(out, s.entries)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// GetByID returns a copy of the entry with the given ID, or
// store.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("memory: get %s: %w", id, store.ErrNotFound)
	}
	e := s.entries[i]
	return &e, nil
}

// AcquireOrRenewLease grants or extends the lease on resource. A live lease
// owned by a different holder returns store.ErrLeaseHeld.
func (s *Store) AcquireOrRenewLease(ctx context.Context, resource, holder string, ttl time.Duration) (store.Lease, error) {
	if err := ctx.Err(); err != nil {
		return store.Lease{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if l, ok := s.leases[resource]; ok && l.Holder != holder && l.ExpiresAt.After(now) {
		return store.Lease{}, fmt.Errorf("memory: lease %q owned by %s until %s: %w",
			resource, l.Holder, l.ExpiresAt.Format(time.RFC3339), store.ErrLeaseHeld)
	}

	l := store.Lease{
		Resource:      resource,
		Holder:        holder,
		ExpiresAt:     now.Add(ttl),
		LastHeartbeat: now,
	}
	s.leases[resource] = l
	return l, nil
}
