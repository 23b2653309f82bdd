// Package mailbox hands the newest video frame from a media producer to the
// capture loop.
//
// Philosophy: "Drop frames, never queue. Latency > Completeness."
//
// Design:
//   - Non-blocking Publish(): a new frame overwrites an unconsumed one
//   - Blocking Next(ctx) with cond-var waiting
//   - Single slot, so the loop never sees a frame older than the latest
package mailbox

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/care/postura/internal/types"
)

// Stats is a snapshot of mailbox counters.
type Stats struct {
	Published uint64
	Consumed  uint64
	Drops     uint64
	Closed    bool
}

// Mailbox is a single-slot, overwrite-on-publish frame buffer.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *types.Frame // nil = consumed
	closed bool

	published uint64 // atomic
	consumed  uint64 // atomic
	drops     uint64 // atomic
}

// New returns an empty open mailbox.
func New() *Mailbox {
	m := &Mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Publish stores frame, replacing any unconsumed frame. After Close it is a
// no-op.
func (m *Mailbox) Publish(frame *types.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.frame != nil {
		atomic.AddUint64(&m.drops, 1)
	}
	m.frame = frame
	atomic.AddUint64(&m.published, 1)
	m.cond.Signal()
}

// Next blocks until a frame is available, the mailbox is closed or ctx is
// done. It returns nil when no frame will be delivered.
func (m *Mailbox) Next(ctx context.Context) *types.Frame {
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		m.cond.Broadcast()
		m.mu.Unlock()
	})
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for m.frame == nil && !m.closed && ctx.Err() == nil {
		m.cond.Wait()
	}
	if m.frame == nil || ctx.Err() != nil {
		return nil
	}

	f := m.frame
	m.frame = nil
	atomic.AddUint64(&m.consumed, 1)
	return f
}

// Close wakes every waiter. Idempotent.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.frame = nil
	m.cond.Broadcast()
}

// Stats returns a snapshot of the counters.
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()

	return Stats{
		Published: atomic.LoadUint64(&m.published),
		Consumed:  atomic.LoadUint64(&m.consumed),
		Drops:     atomic.LoadUint64(&m.drops),
		Closed:    closed,
	}
}
