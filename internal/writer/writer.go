// Package writer implements the single-writer sequencer that owns the chain
// head. The writer is the only component that mutates the ledger: it drains
// the intent queue in FIFO order and, strictly sequentially, assigns the
// next sequence number, links the entry to the in-memory head hash, seals
// it, persists it with bounded retry, and resolves the producer's promise.
//
// # Lease protocol
//
// Before touching the chain the writer acquires an exclusive lease on the
// ledger's lock resource and then renews it from a heartbeat goroutine. A
// failed renewal is fatal on purpose: stopping immediately is what prevents
// a fork when a second writer takes over the lease.
//
// # Lifecycle
//
//	Starting → LeaseAcquired → Initialized → Running → Draining → Stopped
//
// with Failed reachable from every non-terminal state. Run blocks until the
// queue is closed and drained (Stopped), the context is cancelled, or a
// fatal condition occurs.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/provance/ledger/internal/entry"
	"github.com/provance/ledger/internal/queue"
	"github.com/provance/ledger/internal/store"
)

// Defaults for the lease and retry knobs.
const (
	DefaultLockResource  = "ledger_writer_lock_v1"
	DefaultLeaseDuration = 30 * time.Second
	DefaultRenewInterval = 10 * time.Second
	DefaultRetryAttempts = 3
	DefaultRetryBase     = 2 * time.Second
)

// Terminal writer errors.
var (
	// ErrLeaseUnavailable reports that startup failed because another
	// writer holds the lease.
	ErrLeaseUnavailable = errors.New("writer: lease unavailable")

	// ErrLeaseLost reports that a heartbeat renewal failed after startup.
	ErrLeaseLost = errors.New("writer: lease lost")

	// ErrHalted is the rejection cause seen by producers whose intents
	// were in flight when the writer reached a terminal state, and the
	// cause wrapped into per-entry persistence rejections.
	ErrHalted = errors.New("writer: halted")
)

// State is the writer lifecycle state.
type State int32

// Lifecycle states in transition order.
const (
	StateStarting State = iota
	StateLeaseAcquired
	StateInitialized
	StateRunning
	StateDraining
	StateStopped
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateLeaseAcquired:
		return "lease_acquired"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Config carries the writer knobs. Zero fields are replaced with the
// package defaults; Secret and GenesisHash are required.
type Config struct {
	// Secret is the HMAC key used to seal entries.
	Secret []byte

	// GenesisHash anchors the chain: it is the previous hash of the first
	// entry. 64 lowercase hex characters.
	GenesisHash string

	// WorkerID identifies this writer in the lease record. Defaults to a
	// fresh UUID.
	WorkerID string

	// LockResource is the lease resource name.
	LockResource string

	// LeaseDuration is the lease TTL granted on acquire and renewal.
	LeaseDuration time.Duration

	// RenewInterval is the heartbeat period. Must be shorter than
	// LeaseDuration.
	RenewInterval time.Duration

	// RetryAttempts bounds persistence retries per entry beyond the
	// initial attempt. The default of 3 yields delays of RetryBase,
	// 2×RetryBase, 4×RetryBase (2s, 4s, 8s) before the intent is
	// rejected.
	RetryAttempts int

	// RetryBase is the first retry delay; subsequent delays double.
	RetryBase time.Duration
}

// withDefaults returns cfg with zero fields replaced.
func (c Config) withDefaults() Config {
	if c.WorkerID == "" {
		c.WorkerID = uuid.NewString()
	}
	if c.LockResource == "" {
		c.LockResource = DefaultLockResource
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = DefaultLeaseDuration
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = DefaultRenewInterval
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = DefaultRetryAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = DefaultRetryBase
	}
	return c
}

// Writer is the single-writer sequencer. Create one with New and run it
// with Run; all other methods are safe to call concurrently with Run.
type Writer struct {
	cfg     Config
	store   store.Store
	queue   *queue.Queue
	logger  *slog.Logger
	metrics *Metrics

	state atomic.Int32

	// The in-memory chain head. Touched only by the Run goroutine.
	headHash string
	headSeq  uint64

	ready   chan struct{}
	done    chan struct{}
	errOnce sync.Once
	errMu   sync.Mutex
	err     error
}

// New constructs a writer over st and q. logger may be nil for a silent
// writer; metrics may be nil to skip instrumentation.
func New(cfg Config, st store.Store, q *queue.Queue, logger *slog.Logger, metrics *Metrics) *Writer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}
	return &Writer{
		cfg:     cfg.withDefaults(),
		store:   st,
		queue:   q,
		logger:  logger,
		metrics: metrics,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (w *Writer) State() State {
	return State(w.state.Load())
}

// Ready is closed once the writer holds the lease, has restored the chain
// head, and is draining the queue. Callers that need startup confirmation
// select on Ready and Done together.
func (w *Writer) Ready() <-chan struct{} {
	return w.ready
}

// Done is closed when the writer reaches a terminal state (Stopped or
// Failed). Producers awaiting a promise select on Done so a dead writer
// cannot strand them.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Err returns the terminal error, or nil after a clean drain. Valid once
// Done is closed.
func (w *Writer) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// WorkerID returns the lease holder identity of this writer.
func (w *Writer) WorkerID() string {
	return w.cfg.WorkerID
}

// BeginDrain marks the writer as draining. The facade calls this right
// after closing the queue; the writer keeps processing already-buffered
// intents until the queue is exhausted.
func (w *Writer) BeginDrain() {
	w.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))
}

// Run executes the writer lifecycle. It returns nil after a clean drain
// (queue closed and exhausted) or the terminal error otherwise. Run must be
// called exactly once.
func (w *Writer) Run(ctx context.Context) error {
	w.state.Store(int32(StateStarting))

	// Internal context: the heartbeat cancels it with an ErrLeaseLost
	// cause so that in-flight store calls and retry waits abort promptly.
	wctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	// Starting → LeaseAcquired.
	if _, err := w.store.AcquireOrRenewLease(wctx, w.cfg.LockResource, w.cfg.WorkerID, w.cfg.LeaseDuration); err != nil {
		return w.fail(fmt.Errorf("%w: %v", ErrLeaseUnavailable, err))
	}
	w.state.Store(int32(StateLeaseAcquired))
	w.logger.Info("writer lease acquired",
		slog.String("resource", w.cfg.LockResource),
		slog.String("worker_id", w.cfg.WorkerID),
	)

	// LeaseAcquired → Initialized: restore the chain head.
	head, err := w.store.Head(wctx)
	if err != nil {
		return w.fail(fmt.Errorf("writer: read head: %w", err))
	}
	if head == nil {
		w.headHash = w.cfg.GenesisHash
		w.headSeq = 0
	} else {
		w.headHash = head.CurrentHash
		w.headSeq = head.Sequence
	}
	w.state.Store(int32(StateInitialized))
	w.logger.Info("writer initialized", slog.Uint64("head_sequence", w.headSeq))

	// Initialized → Running: start the heartbeat, then drain the queue.
	hbStop := make(chan struct{})
	hbDone := make(chan struct{})
	go w.heartbeat(wctx, cancel, hbStop, hbDone)
	defer func() {
		close(hbStop)
		<-hbDone
	}()

	w.state.Store(int32(StateRunning))
	close(w.ready)

	for {
		select {
		case <-wctx.Done():
			return w.fail(fmt.Errorf("writer: stopped: %w", context.Cause(wctx)))
		case in, ok := <-w.queue.Intents():
			if !ok {
				// Draining → Stopped: queue closed and exhausted.
				w.state.Store(int32(StateStopped))
				w.finish(nil)
				return nil
			}
			if w.metrics != nil {
				w.metrics.QueueDepth.Store(int64(w.queue.Depth()))
			}
			if err := w.process(wctx, in); err != nil {
				return w.fail(err)
			}
		}
	}
}

// heartbeat renews the lease every RenewInterval. A renewal failure cancels
// the writer context with an ErrLeaseLost cause and ends the heartbeat:
// continuing without a confirmed lease would allow a fork.
func (w *Writer) heartbeat(ctx context.Context, cancel context.CancelCauseFunc, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := w.store.AcquireOrRenewLease(ctx, w.cfg.LockResource, w.cfg.WorkerID, w.cfg.LeaseDuration)
			if err != nil {
				if w.metrics != nil {
					w.metrics.LeaseRenewalFailures.Add(1)
				}
				w.logger.Error("writer lease renewal failed", slog.Any("error", err))
				cancel(fmt.Errorf("%w: %v", ErrLeaseLost, err))
				return
			}
			if w.metrics != nil {
				w.metrics.LeaseRenewals.Add(1)
			}
		}
	}
}

// process seals and persists one intent. It returns a non-nil error only
// for conditions that are fatal to the writer; per-entry persistence
// failures are reported to the producer and the writer moves on with its
// head state unchanged.
func (w *Writer) process(ctx context.Context, in *queue.Intent) error {
	e := entry.Entry{
		ID:           uuid.New(),
		Sequence:     w.headSeq + 1,
		Timestamp:    time.Now().UTC(),
		EventType:    in.EventType,
		Payload:      in.Payload,
		PreviousHash: w.headHash,
	}
	e.CurrentHash = e.ComputeSeal(w.cfg.Secret)

	if err := w.persist(ctx, e); err != nil {
		if w.metrics != nil {
			w.metrics.PersistFailures.Add(1)
		}
		in.Reject(fmt.Errorf("%w: persist entry: %v", ErrHalted, err))

		// A duplicate sequence means a second writer advanced the chain:
		// stop before forking it further.
		if errors.Is(err, store.ErrDuplicateSequence) {
			return fmt.Errorf("writer: sequence %d already persisted: %w", e.Sequence, err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("writer: stopped: %w", context.Cause(ctx))
		}
		w.logger.Error("entry persistence failed after retries",
			slog.Uint64("sequence", e.Sequence),
			slog.Any("error", err),
		)
		return nil
	}

	// Only now does the head advance; a failed intent leaves the next
	// intent to reuse the same head hash and sequence.
	w.headHash = e.CurrentHash
	w.headSeq = e.Sequence
	if w.metrics != nil {
		w.metrics.EntriesSealed.Add(1)
		w.metrics.HeadSequence.Store(int64(e.Sequence))
	}
	in.Resolve(&e)
	return nil
}

// persist appends e with bounded exponential retry: one initial attempt
// plus up to RetryAttempts retries, with delays RetryBase, 2×RetryBase, …
// between them. Duplicate-sequence errors are permanent and never retried.
func (w *Writer) persist(ctx context.Context, e entry.Entry) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.cfg.RetryBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour // delays are bounded by the attempt count
	b.MaxElapsedTime = 0
	b.Reset()

	attempt := 0
	op := func() error {
		attempt++
		if attempt > 1 && w.metrics != nil {
			w.metrics.PersistRetries.Add(1)
		}
		err := w.store.Append(ctx, e)
		if err == nil {
			return nil
		}
		if errors.Is(err, store.ErrDuplicateSequence) {
			return backoff.Permanent(err)
		}
		w.logger.Warn("append attempt failed",
			slog.Uint64("sequence", e.Sequence),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return err
	}

	return backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(w.cfg.RetryAttempts)), ctx))
}

// fail records err, marks the writer Failed, and closes Done.
func (w *Writer) fail(err error) error {
	w.state.Store(int32(StateFailed))
	w.logger.Error("writer failed", slog.Any("error", err))
	w.finish(err)
	return err
}

// finish records the terminal error (first writer wins) and closes Done.
func (w *Writer) finish(err error) {
	w.errOnce.Do(func() {
		w.errMu.Lock()
		w.err = err
		w.errMu.Unlock()
		close(w.done)
	})
}
