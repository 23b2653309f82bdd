// Package gstreamer opens the camera and video clips as GStreamer pipelines
// that deliver RGB24 frames through a latest-frame mailbox.
package gstreamer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/care/postura/internal/media"
	"github.com/care/postura/internal/types"
)

// busPoll bounds how long the bus monitor blocks between cancellation checks.
const busPoll = 50 * time.Millisecond

// Source is one running pipeline. It implements capture.Media.
type Source struct {
	*media.Stream

	name     string
	format   Format
	elements *elements

	// playing receives the first PLAYING transition or startup error.
	playing     chan error
	playingOnce sync.Once

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once

	frameCount uint64 // atomic
	bytesRead  uint64 // atomic
	started    time.Time
}

func newSource(name string, f Format, e *elements) *Source {
	s := &Source{
		Stream:   media.NewStream(),
		name:     name,
		format:   f,
		elements: e,
		playing:  make(chan error, 1),
	}
	e.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})
	return s
}

// start sets the pipeline to PLAYING and launches the bus monitor.
func (s *Source) start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = time.Now()

	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		cancel()
		return err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitorBus(ctx)
	}()
	return nil
}

// onNewSample copies the sample out of GStreamer (which reuses the buffer)
// and publishes it. A bad sample is skipped, never fatal.
func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("gstreamer: failed to pull sample from appsink, skipping frame", "source", s.name)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstreamer: failed to get buffer from sample, skipping frame", "source", s.name)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstreamer: empty buffer received", "source", s.name)
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	seq := atomic.AddUint64(&s.frameCount, 1)
	atomic.AddUint64(&s.bytesRead, uint64(len(data)))

	s.Publish(&types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     s.format.Width,
		Height:    s.format.Height,
		Data:      frameData,
		Source:    s.name,
		TraceID:   uuid.New().String(),
	})
	s.MarkReady()
	return gst.FlowOK
}

// monitorBus ends the stream on EOS or error and reports the first PLAYING
// transition to the acquirer.
func (s *Source) monitorBus(ctx context.Context) {
	bus := s.elements.Pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(busPoll)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstreamer: end of stream received",
				"source", s.name,
				"uptime", time.Since(s.started),
				"frames_processed", atomic.LoadUint64(&s.frameCount),
			)
			s.signalPlaying(nil)
			s.Finish(nil)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			category := ClassifyGStreamerError(gerr)
			slog.Error("gstreamer: pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"source", s.name,
				"frames_processed", atomic.LoadUint64(&s.frameCount),
			)
			err := sourceError(category, gerr.Error())
			s.signalPlaying(err)
			s.Finish(err)
			return

		case gst.MessageStateChanged:
			if msg.Source() == s.elements.Pipeline.GetName() {
				old, new := msg.ParseStateChanged()
				slog.Debug("gstreamer: pipeline state changed", "source", s.name, "from", old, "to", new)
				if new == gst.StatePlaying {
					s.signalPlaying(nil)
				}
			}
		}
	}
}

func (s *Source) signalPlaying(err error) {
	s.playingOnce.Do(func() { s.playing <- err })
}

// awaitPlaying blocks until the pipeline plays, fails or ctx is done.
func (s *Source) awaitPlaying(ctx context.Context) error {
	select {
	case err := <-s.playing:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the bus monitor and tears the pipeline down. Idempotent.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		destroy(s.elements)
		s.Finish(nil)

		slog.Info("gstreamer: source stopped",
			"source", s.name,
			"frames_captured", atomic.LoadUint64(&s.frameCount),
			"bytes_read", atomic.LoadUint64(&s.bytesRead),
			"uptime", time.Since(s.started),
		)
	})
	return nil
}
