package rest

import (
	"context"

	"github.com/google/uuid"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/ledger"
	"github.com/provance/ledger/internal/verify"
)

// Service is the subset of ledger operations used by the REST handlers.
// Defining an interface allows handlers to be tested with a stub without a
// running writer.
type Service interface {
	// AddEntry submits an event and blocks until the sealed entry is
	// durably persisted.
	AddEntry(ctx context.Context, eventType string, payload *canonical.Map) (*entry.Entry, error)

	// Head returns the entry with the highest sequence, or (nil, nil)
	// when the ledger is empty.
	Head(ctx context.Context) (*entry.Entry, error)

	// GetByID returns the entry with the given ID, or store.ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*entry.Entry, error)

	// Verify validates the full chain.
	Verify(ctx context.Context) (verify.Result, error)

	// Stats returns the operational snapshot served by /healthz.
	Stats() ledger.Stats
}

// The facade is the production implementation.
var _ Service = (*ledger.Ledger)(nil)
