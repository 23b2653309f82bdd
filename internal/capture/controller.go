// Package capture owns the capture session: which media source is active,
// the single per-frame loop driving inference, and the camera resource.
//
// Lifecycle:
//
//	idle ──StartCamera──▶ camera ──Stop/EOS──▶ idle
//	idle ──StartClip────▶ clip   ──Stop/EOS──▶ idle
//
// Starting any mode first cancels the current loop and releases its media,
// so at most one loop exists and the camera is never held twice.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config tunes the loop.
type Config struct {
	// Interval paces iterations; zero runs them back to back, paced only by
	// frame arrival.
	Interval time.Duration
	Policy   InferencePolicy
}

// loopHandle is the cancellation token of one session. It exists from the
// start call (covering acquisition) until the loop goroutine exits.
type loopHandle struct {
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// Controller is the capture state machine. All methods are safe for
// concurrent use.
type Controller struct {
	cfg  Config
	acq  Acquirer
	est  Estimator
	proc Processor

	mu        sync.Mutex // guards the fields below
	mode      Mode
	media     Media
	loop      *loopHandle
	gen       uint64
	startedAt time.Time
	closed    bool

	// renderMu serialises Process calls against generation changes, so a
	// retired loop cannot draw once Stop has returned.
	renderMu sync.Mutex
	current  atomic.Uint64

	wg sync.WaitGroup

	processed  atomic.Uint64
	discarded  atomic.Uint64
	inferFails atomic.Uint64
}

// NewController validates dependencies and returns an idle controller.
func NewController(cfg Config, acq Acquirer, est Estimator, proc Processor) (*Controller, error) {
	if acq == nil || est == nil || proc == nil {
		return nil, fmt.Errorf("capture: acquirer, estimator and processor are required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("capture: interval must be >= 0, got %v", cfg.Interval)
	}
	if cfg.Policy == "" {
		cfg.Policy = InferenceSkip
	}
	return &Controller{cfg: cfg, acq: acq, est: est, proc: proc, mode: ModeIdle}, nil
}

// StartCamera acquires the camera and starts the loop once it is ready.
// It blocks while acquisition is pending; Stop or another start aborts it.
func (c *Controller) StartCamera(ctx context.Context) error {
	return c.start(ctx, ModeCamera, "camera", MsgAccessingCamera, func(ctx context.Context) (Media, error) {
		return c.acq.OpenCamera(ctx)
	})
}

// StartClip releases any camera, opens the clip and starts the loop.
func (c *Controller) StartClip(ctx context.Context, path string) error {
	if path == "" {
		return fmt.Errorf("capture: clip path is required")
	}
	return c.start(ctx, ModeClip, path, MsgLoadingClip, func(ctx context.Context) (Media, error) {
		return c.acq.OpenClip(ctx, path)
	})
}

func (c *Controller) start(ctx context.Context, mode Mode, source, pending string, open func(context.Context) (Media, error)) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", mode, ErrClosed)
	}
	c.stopLocked()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &loopHandle{
		session: Session{ID: uuid.NewString(), Mode: mode, Generation: c.advance(), Source: source},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	c.loop = h
	c.mu.Unlock()

	c.proc.Status(h.session, pending)

	// Suspension point: acquisition may wait on a permission prompt.
	m, err := open(loopCtx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loop != h {
		if m != nil {
			m.Close()
		}
		close(h.done)
		return fmt.Errorf("%s: %w", mode, ErrSuperseded)
	}

	if err != nil {
		c.loop = nil
		cancel()
		close(h.done)
		c.mode = ModeIdle

		msg := MsgMediaFailed
		if errors.Is(err, ErrPermissionDenied) {
			msg = MsgCameraDenied
		}
		slog.Warn("capture acquisition failed", "mode", mode, "source", source, "error", err)
		c.proc.Status(h.session, msg)
		return fmt.Errorf("open %s: %w", mode, err)
	}

	c.media = m
	c.mode = mode
	c.startedAt = time.Now()

	slog.Info("capture session started",
		"session_id", h.session.ID,
		"mode", mode,
		"generation", h.session.Generation,
	)

	c.wg.Add(1)
	go c.run(loopCtx, h, m)
	return nil
}

// Stop cancels the loop, releases the media and returns to idle. Safe to
// call any number of times, including before any start.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.loop != nil {
		c.loop.cancel()
		slog.Info("capture loop cancelled", "session_id", c.loop.session.ID, "mode", c.loop.session.Mode)
		c.loop = nil
	}
	c.advance()
	if c.media != nil {
		if err := c.media.Close(); err != nil {
			slog.Warn("failed to release media", "error", err)
		}
		c.media = nil
	}
	c.mode = ModeIdle
}

// advance retires every outstanding generation. Callers hold mu.
func (c *Controller) advance() uint64 {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	c.gen++
	c.current.Store(c.gen)
	return c.gen
}

// Close stops the session, refuses further starts and waits for loop
// goroutines to exit. An iteration blocked inside the estimator is abandoned
// when ctx expires. A start still acquiring media is superseded and releases
// what it acquired.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture loops did not exit: %w", ctx.Err())
	}
}

// Mode returns the current capture mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Snapshot returns the current state and counters.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{Mode: c.mode, Generation: c.gen, LoopActive: c.loop != nil}
	if c.loop != nil {
		s.SessionID = c.loop.session.ID
		s.StartedAt = c.startedAt
	}
	c.mu.Unlock()

	s.FramesProcessed = c.processed.Load()
	s.FramesDiscarded = c.discarded.Load()
	s.InferenceErrors = c.inferFails.Load()
	return s
}

// finish ends the session from inside its own loop (EOS, media failure or
// an aborting inference error). A loop that was already replaced does nothing.
func (c *Controller) finish(h *loopHandle, msg string, reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loop != h {
		return
	}
	c.stopLocked()

	if reason != nil {
		slog.Error("capture session ended", "session_id", h.session.ID, "mode", h.session.Mode, "error", reason)
	} else {
		slog.Info("capture session ended", "session_id", h.session.ID, "mode", h.session.Mode)
	}
	c.proc.Status(h.session, msg)
}
