// Package ledger is the producer facade of the tamper-evident audit ledger.
// A Ledger accepts events from any number of concurrent producers, hands
// them to the single writer through the bounded queue, and exposes the
// read-only operations: head lookup, lookup by ID, and full-chain
// verification.
//
// The facade deliberately does none of the sequencing work itself: it never
// reads the chain head, never computes hashes, never assigns sequence
// numbers. Those are the writer's exclusive responsibility, which is what
// makes forks impossible under concurrency.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/queue"
	"github.com/provance/ledger/internal/store"
	"github.com/provance/ledger/internal/verify"
	"github.com/provance/ledger/internal/writer"
)

// Error kinds surfaced by the facade. Classify with errors.Is.
var (
	// ErrInvalidInput reports an empty event type or nil payload.
	ErrInvalidInput = errors.New("ledger: invalid input")

	// ErrShuttingDown reports that the ledger no longer accepts entries.
	ErrShuttingDown = errors.New("ledger: shutting down")

	// ErrWriter reports that the writer rejected or could not complete the
	// intent. The wrapped cause carries the detail.
	ErrWriter = errors.New("ledger: writer error")

	// ErrNotStarted reports use of the write path before Start.
	ErrNotStarted = errors.New("ledger: not started")
)

// Stats is a point-in-time operational snapshot.
type Stats struct {
	WriterState   string `json:"writerState"`
	QueueDepth    int    `json:"queueDepth"`
	QueueCapacity int    `json:"queueCapacity"`
	WorkerID      string `json:"workerId"`
}

// Ledger is one audit ledger instance bound to a store. Create with New,
// start the writer with Start, and stop with Shutdown. All methods are safe
// for concurrent use.
type Ledger struct {
	opts   Options
	store  store.Store
	queue  *queue.Queue
	writer *writer.Writer
	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	cancelRun context.CancelFunc
}

// New validates opts and constructs a ledger over st. The writer is not
// started yet; call Start.
func New(opts Options, st store.Store) (*Ledger, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	q := queue.New(opts.QueueCapacity)
	w := writer.New(writer.Config{
		Secret:        opts.SecretKey,
		GenesisHash:   opts.GenesisHash,
		WorkerID:      opts.WorkerID,
		LockResource:  opts.LockResourceName,
		LeaseDuration: opts.LeaseDuration,
		RenewInterval: opts.LeaseRenewInterval,
		RetryAttempts: opts.RetryAttempts,
		RetryBase:     opts.RetryBase,
	}, st, q, logger, opts.Metrics)
	if opts.Metrics != nil {
		opts.Metrics.BindState(w.State)
	}

	return &Ledger{
		opts:   opts,
		store:  st,
		queue:  q,
		writer: w,
		logger: logger,
	}, nil
}

// Start launches the writer and blocks until it holds the lease and is
// draining the queue, or until it fails (for example because another writer
// holds the lease). ctx bounds both the wait and the writer's lifetime.
func (l *Ledger) Start(ctx context.Context) error {
	var startErr error
	l.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		l.cancelRun = cancel
		go func() {
			_ = l.writer.Run(runCtx)
		}()

		select {
		case <-l.writer.Ready():
			l.started.Store(true)
			l.logger.Info("ledger started", slog.String("worker_id", l.writer.WorkerID()))
		case <-l.writer.Done():
			startErr = fmt.Errorf("ledger: start: %w", l.writer.Err())
		case <-ctx.Done():
			cancel()
			startErr = fmt.Errorf("ledger: start: %w", ctx.Err())
		}
	})
	return startErr
}

// AddEntry validates the input, submits an intent, and blocks until the
// writer has durably persisted the sealed entry (strong ack). Cancelling
// ctx before the intent is enqueued cancels the submission; cancelling
// afterwards detaches the caller while the writer still persists the entry.
func (l *Ledger) AddEntry(ctx context.Context, eventType string, payload *canonical.Map) (*entry.Entry, error) {
	if eventType == "" {
		return nil, fmt.Errorf("%w: event type must not be empty", ErrInvalidInput)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: payload must not be nil", ErrInvalidInput)
	}
	if !l.started.Load() {
		return nil, ErrNotStarted
	}

	// Fast-path rejection when the writer is already gone.
	select {
	case <-l.writer.Done():
		return nil, l.terminalError()
	default:
	}

	// The enqueue context additionally aborts when the writer reaches a
	// terminal state, so a producer blocked on a full queue is never
	// stranded behind a dead consumer.
	enqCtx, enqCancel := context.WithCancel(ctx)
	defer enqCancel()
	go func() {
		select {
		case <-l.writer.Done():
			enqCancel()
		case <-enqCtx.Done():
		}
	}()

	in := queue.NewIntent(eventType, payload)
	if err := l.queue.Enqueue(enqCtx, in); err != nil {
		switch {
		case errors.Is(err, queue.ErrClosed):
			return nil, fmt.Errorf("%w: queue closed", ErrShuttingDown)
		default:
			select {
			case <-l.writer.Done():
				return nil, l.terminalError()
			default:
			}
			return nil, err
		}
	}

	select {
	case res := <-in.Done():
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %v", ErrWriter, res.Err)
		}
		return res.Entry, nil
	case <-l.writer.Done():
		// The writer died with this intent still buffered.
		return nil, l.terminalError()
	case <-ctx.Done():
		// Detached: the writer still processes the intent; audit
		// completeness outweighs per-request abort.
		return nil, ctx.Err()
	}
}

// Head returns the entry with the highest sequence, or (nil, nil) when the
// ledger is empty.
func (l *Ledger) Head(ctx context.Context) (*entry.Entry, error) {
	return l.store.Head(ctx)
}

// GetByID returns the entry with the given ID, or store.ErrNotFound.
func (l *Ledger) GetByID(ctx context.Context, id uuid.UUID) (*entry.Entry, error) {
	return l.store.GetByID(ctx, id)
}

// Verify re-derives every seal and validates chain continuity from the
// genesis anchor. Integrity violations come back in the Result, not as an
// error; the error return is reserved for store failures and cancellation.
func (l *Ledger) Verify(ctx context.Context) (verify.Result, error) {
	return verify.Chain(ctx, l.store, l.opts.GenesisHash, l.opts.SecretKey)
}

// Stats returns an operational snapshot for health endpoints.
func (l *Ledger) Stats() Stats {
	return Stats{
		WriterState:   l.writer.State().String(),
		QueueDepth:    l.queue.Depth(),
		QueueCapacity: l.queue.Capacity(),
		WorkerID:      l.writer.WorkerID(),
	}
}

// Shutdown closes the queue, lets the writer drain every intent that was
// already accepted, and waits for it to stop. If ctx expires first the
// writer is cancelled hard and Shutdown returns the context error.
func (l *Ledger) Shutdown(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		l.queue.Close()
		if l.cancelRun == nil {
			// The writer was never started; closing the queue is all
			// there is to do.
			return
		}
		l.writer.BeginDrain()
		l.logger.Info("ledger draining", slog.Int("queued", l.queue.Depth()))

		select {
		case <-l.writer.Done():
			if werr := l.writer.Err(); werr != nil {
				err = fmt.Errorf("ledger: shutdown: %w", werr)
			}
		case <-ctx.Done():
			if l.cancelRun != nil {
				l.cancelRun()
			}
			<-l.writer.Done()
			err = fmt.Errorf("ledger: shutdown: %w", ctx.Err())
		}
		l.logger.Info("ledger stopped")
	})
	return err
}

// terminalError maps the writer's terminal condition onto the facade error
// kinds: a clean stop is ErrShuttingDown, anything else is ErrWriter.
func (l *Ledger) terminalError() error {
	if werr := l.writer.Err(); werr != nil {
		return fmt.Errorf("%w: %v", ErrWriter, werr)
	}
	return fmt.Errorf("%w: writer stopped", ErrShuttingDown)
}
