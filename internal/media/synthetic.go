package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/care/postura/internal/capture"
	"github.com/care/postura/internal/types"
)

// SyntheticConfig sizes a generated source.
type SyntheticConfig struct {
	Width  int
	Height int
	FPS    int
	// Frames ends the source after that many frames; 0 runs until Close.
	Frames int
	Source string
}

// Synthetic generates gradient RGB24 frames at a fixed rate.
type Synthetic struct {
	*Stream
	cfg SyntheticConfig

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mu        sync.RWMutex
	seq       uint64
	startTime time.Time
}

// NewSynthetic starts generating frames right away.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("synthetic source size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	if cfg.Source == "" {
		cfg.Source = "synthetic"
	}

	s := &Synthetic{
		Stream:    NewStream(),
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		startTime: time.Now(),
	}

	slog.Info("synthetic source starting",
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.FPS,
		"frames", cfg.Frames,
		"source", cfg.Source,
	)

	s.MarkReady()
	s.wg.Add(1)
	go s.generate()
	return s, nil
}

// Close stops the generator. Idempotent.
func (s *Synthetic) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		s.Finish(nil)

		s.mu.RLock()
		emitted := s.seq
		s.mu.RUnlock()
		slog.Info("synthetic source stopped",
			"source", s.cfg.Source,
			"frames_emitted", emitted,
			"duration", time.Since(s.startTime),
		)
	})
	return nil
}

func (s *Synthetic) generate() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Publish(s.createFrame())

			s.mu.RLock()
			emitted := s.seq
			s.mu.RUnlock()
			if s.cfg.Frames > 0 && emitted >= uint64(s.cfg.Frames) {
				slog.Debug("synthetic source reached end", "source", s.cfg.Source, "frames", emitted)
				s.Finish(nil)
				return
			}
		}
	}
}

// createFrame fills a horizontal gradient that shifts with seq.
func (s *Synthetic) createFrame() *types.Frame {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	w, h := s.cfg.Width, s.cfg.Height
	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			data[i] = byte(x + int(seq))
			data[i+1] = byte(y)
			data[i+2] = 0x40
		}
	}

	return &types.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     w,
		Height:    h,
		Data:      data,
		Source:    s.cfg.Source,
		TraceID:   uuid.New().String(),
	}
}

// SyntheticAcquirer opens generated sources in place of a camera and clip
// decoder.
type SyntheticAcquirer struct {
	Width  int
	Height int
	FPS    int
	// ClipFrames is the length of every synthetic clip.
	ClipFrames int
	// DenyCamera makes OpenCamera fail as if permission were refused.
	DenyCamera bool
}

func (a SyntheticAcquirer) OpenCamera(ctx context.Context) (capture.Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if a.DenyCamera {
		return nil, fmt.Errorf("synthetic camera: %w", capture.ErrPermissionDenied)
	}
	return NewSynthetic(SyntheticConfig{Width: a.Width, Height: a.Height, FPS: a.FPS, Source: "synthetic-camera"})
}

func (a SyntheticAcquirer) OpenClip(ctx context.Context, path string) (capture.Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := a.ClipFrames
	if frames <= 0 {
		frames = 90
	}
	return NewSynthetic(SyntheticConfig{Width: a.Width, Height: a.Height, FPS: a.FPS, Frames: frames, Source: path})
}
