// Package queue provides the backpressured handoff between concurrent
// producers and the single ledger writer: a bounded FIFO of intents. When
// the queue is full, Enqueue blocks rather than dropping — under overload
// the request path slows down and the host application decides how to
// surface that. Closing the queue stops further enqueues while letting the
// consumer drain everything already accepted.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/provance/ledger/internal/canonical"
	"github.com/provance/ledger/internal/entry"
)

// DefaultCapacity is the intent buffer size used when no explicit capacity
// is configured.
const DefaultCapacity = 100_000

// ErrClosed is returned by Enqueue after Close has been called.
var ErrClosed = errors.New("queue: closed")

// Result is the terminal outcome of an intent: the sealed entry on success
// or the writer's error.
type Result struct {
	Entry *entry.Entry
	Err   error
}

// Intent is a producer's pending submission: the event classification, the
// payload, and a one-shot completion promise. The producer owns the intent
// until Enqueue succeeds; afterwards only the writer may resolve it.
type Intent struct {
	EventType string
	Payload   *canonical.Map

	once sync.Once
	done chan Result
}

// NewIntent builds an intent with an unresolved completion promise.
func NewIntent(eventType string, payload *canonical.Map) *Intent {
	return &Intent{
		EventType: eventType,
		Payload:   payload,
		done:      make(chan Result, 1),
	}
}

// Resolve completes the promise with the sealed entry. Only the first of
// Resolve/Reject takes effect.
func (in *Intent) Resolve(e *entry.Entry) {
	in.once.Do(func() { in.done <- Result{Entry: e} })
}

// Reject completes the promise with err. Only the first of Resolve/Reject
// takes effect.
func (in *Intent) Reject(err error) {
	in.once.Do(func() { in.done <- Result{Err: err} })
}

// Done returns the promise channel. It receives exactly one Result. If the
// producer has detached (cancelled), the buffered result is simply never
// read; the entry is persisted regardless.
func (in *Intent) Done() <-chan Result {
	return in.done
}

// Queue is a bounded many-producer/single-consumer FIFO of intents.
type Queue struct {
	mu     sync.RWMutex
	ch     chan *Intent
	closed bool
}

// New returns a queue with the given capacity. A capacity ≤ 0 is replaced
// with DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan *Intent, capacity)}
}

// Enqueue appends in to the queue, blocking while the queue is full. It
// returns ErrClosed after Close, or the context error if ctx is cancelled
// while waiting for space.
//
// The read lock is held across the send so that Close cannot close the
// underlying channel while a producer is blocked mid-send.
func (q *Queue) Enqueue(ctx context.Context, in *Intent) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.ch <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Intents returns the consumer side. The channel yields intents in arrival
// order and is closed once Close has been called and is safe to drain to
// completion with a range loop.
func (q *Queue) Intents() <-chan *Intent {
	return q.ch
}

// Close stops further enqueues and closes the consumer channel. It blocks
// until producers currently inside Enqueue have finished, which requires the
// consumer to keep draining until Close returns. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Depth returns the number of buffered intents.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Capacity returns the configured bound.
func (q *Queue) Capacity() int {
	return cap(q.ch)
}
