// Package media provides frame sources for the capture loop.
package media

import (
	"context"
	"sync"

	"github.com/care/postura/internal/mailbox"
	"github.com/care/postura/internal/types"
)

// Stream is the producer side shared by every source: a latest-frame
// mailbox plus the ready and done signals the capture loop waits on.
// It implements the read half of capture.Media.
type Stream struct {
	box *mailbox.Mailbox

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once

	mu  sync.Mutex
	err error
}

// NewStream returns an open stream that is neither ready nor done.
func NewStream() *Stream {
	return &Stream{
		box:   mailbox.New(),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// MarkReady signals that the frame size is known. Idempotent.
func (s *Stream) MarkReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Finish ends the stream with err (nil for end of stream). Only the first
// call has effect.
func (s *Stream) Finish(err error) {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.box.Close()
		close(s.done)
	})
}

// Publish hands frame to the consumer, replacing an unconsumed one.
func (s *Stream) Publish(frame *types.Frame) {
	s.box.Publish(frame)
}

func (s *Stream) Ready() <-chan struct{} { return s.ready }

func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) Next(ctx context.Context) *types.Frame {
	return s.box.Next(ctx)
}

// Stats returns mailbox counters for the stream.
func (s *Stream) Stats() mailbox.Stats {
	return s.box.Stats()
}
