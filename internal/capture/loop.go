package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/care/postura/internal/pose"
	"github.com/care/postura/internal/types"
)

// run is the single cooperative loop of one session. Iterations are
// strictly sequential: the next frame is not requested until the current
// one has been inferred, processed and paced.
func (c *Controller) run(ctx context.Context, h *loopHandle, m Media) {
	defer c.wg.Done()
	defer close(h.done)

	// Suspension point: media readiness.
	select {
	case <-ctx.Done():
		return
	case <-m.Done():
		c.finish(h, endMessage(h.session.Mode, m.Err()), m.Err())
		return
	case <-m.Ready():
	}

	ready := MsgCameraReady
	if h.session.Mode == ModeClip {
		ready = MsgClipReady
	}
	c.proc.Status(h.session, ready)
	c.deliver(h.session.Generation, func() { c.proc.Begin(h.session) })

	var tick *time.Ticker
	if c.cfg.Interval > 0 {
		tick = time.NewTicker(c.cfg.Interval)
		defer tick.Stop()
	}

	for {
		// Cancellation flag check at the top of every iteration.
		if ctx.Err() != nil {
			return
		}

		frame := m.Next(ctx)
		if frame == nil {
			if ctx.Err() != nil {
				return
			}
			c.finish(h, endMessage(h.session.Mode, m.Err()), m.Err())
			return
		}

		start := time.Now()
		poses, err := c.estimate(ctx, frame)
		elapsed := time.Since(start)

		if ctx.Err() != nil {
			// Stale result of a cancelled session.
			c.discarded.Add(1)
			return
		}
		if err != nil {
			if c.abortOn(err) {
				c.finish(h, MsgModelFailed, err)
				return
			}
			c.discarded.Add(1)
		} else {
			in := Input{Frame: frame, Poses: poses, Inference: elapsed}
			if !c.deliver(h.session.Generation, func() { c.proc.Process(ctx, h.session, in) }) {
				c.discarded.Add(1)
				return
			}
			c.processed.Add(1)
		}

		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
		}
	}
}

// estimate runs inference, retrying once under InferenceRetry.
func (c *Controller) estimate(ctx context.Context, frame *types.Frame) ([]pose.Pose, error) {
	poses, err := c.est.Estimate(ctx, frame)
	if err == nil {
		return poses, nil
	}
	c.inferFails.Add(1)
	slog.Warn("pose inference failed",
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"policy", c.cfg.Policy,
		"error", err,
	)

	if c.cfg.Policy != InferenceRetry || errors.Is(err, ErrModelUnavailable) || ctx.Err() != nil {
		return nil, err
	}
	poses, err = c.est.Estimate(ctx, frame)
	if err != nil {
		c.inferFails.Add(1)
		return nil, err
	}
	return poses, nil
}

func (c *Controller) abortOn(err error) bool {
	return c.cfg.Policy == InferenceAbort || errors.Is(err, ErrModelUnavailable)
}

// deliver runs fn under the render lock if gen is still current.
func (c *Controller) deliver(gen uint64, fn func()) bool {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if c.current.Load() != gen {
		return false
	}
	fn()
	return true
}

func endMessage(mode Mode, err error) string {
	if err != nil {
		return MsgMediaFailed
	}
	if mode == ModeClip {
		return MsgClipFinished
	}
	return MsgMediaFailed
}
