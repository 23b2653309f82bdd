package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/care/postura/internal/pose"
	"github.com/care/postura/internal/types"
)

// Mode is the capture source currently driving the loop.
type Mode string

const (
	ModeIdle   Mode = "idle"
	ModeCamera Mode = "camera"
	ModeClip   Mode = "clip"
)

var (
	// ErrPermissionDenied is returned when the camera cannot be opened.
	// It is not fatal; another mode may still be started.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrModelUnavailable marks an estimator that can no longer serve
	// requests. It always ends the session.
	ErrModelUnavailable = errors.New("pose model unavailable")
	// ErrSuperseded is returned by a start call overtaken by Stop or by
	// another start before its media was acquired.
	ErrSuperseded = errors.New("capture start superseded")
	// ErrClosed is returned by a start call made after Close.
	ErrClosed = errors.New("capture controller closed")
)

// Media is an acquired frame source.
type Media interface {
	// Ready is closed once the source knows its frame size.
	Ready() <-chan struct{}
	// Done is closed when the source ends (clip EOS or failure).
	Done() <-chan struct{}
	// Err is the reason Done was closed; nil means end of stream.
	Err() error
	// Next blocks for the newest frame; nil after Done or ctx cancellation.
	Next(ctx context.Context) *types.Frame
	// Close releases the source. Idempotent.
	Close() error
}

// Acquirer opens media sources. OpenCamera may block while the platform
// waits for permission; it must honour ctx.
type Acquirer interface {
	OpenCamera(ctx context.Context) (Media, error)
	OpenClip(ctx context.Context, path string) (Media, error)
}

// Estimator is the external pose model.
type Estimator interface {
	Estimate(ctx context.Context, frame *types.Frame) ([]pose.Pose, error)
}

// Session identifies one loop run.
type Session struct {
	ID         string
	Mode       Mode
	Generation uint64
	Source     string
}

// Input is one completed inference handed to the processor.
type Input struct {
	Frame     *types.Frame
	Poses     []pose.Pose
	Inference time.Duration
}

// Processor consumes loop output. Process is never called concurrently and
// never after the session it belongs to has been stopped.
type Processor interface {
	// Begin is called when a loop starts presenting frames.
	Begin(s Session)
	Process(ctx context.Context, s Session, in Input)
	// Status reports acquisition and lifecycle messages.
	Status(s Session, msg string)
}

// InferencePolicy decides what a failed inference does to the loop.
type InferencePolicy string

const (
	// InferenceSkip drops the frame and continues.
	InferenceSkip InferencePolicy = "skip"
	// InferenceRetry re-runs inference on the same frame once, then skips.
	InferenceRetry InferencePolicy = "retry"
	// InferenceAbort ends the session.
	InferenceAbort InferencePolicy = "abort"
)

// ParseInferencePolicy validates a configured policy. Empty means skip.
func ParseInferencePolicy(s string) (InferencePolicy, error) {
	switch InferencePolicy(s) {
	case "", InferenceSkip:
		return InferenceSkip, nil
	case InferenceRetry:
		return InferenceRetry, nil
	case InferenceAbort:
		return InferenceAbort, nil
	default:
		return "", fmt.Errorf("unknown inference failure policy %q (want skip|retry|abort)", s)
	}
}

// Status messages shown to the patient.
const (
	MsgAccessingCamera = "Accessing camera..."
	MsgCameraReady     = "Camera ready"
	MsgCameraDenied    = "Could not access the camera"
	MsgLoadingClip     = "Loading clip..."
	MsgClipReady       = "Clip ready"
	MsgClipFinished    = "Clip finished"
	MsgModelFailed     = "Pose model failed"
	MsgMediaFailed     = "Media source failed"
)

// Snapshot is the controller state for status reporting.
type Snapshot struct {
	Mode            Mode      `json:"mode"`
	SessionID       string    `json:"session_id,omitempty"`
	Generation      uint64    `json:"generation"`
	LoopActive      bool      `json:"loop_active"`
	StartedAt       time.Time `json:"started_at,omitempty"`
	FramesProcessed uint64    `json:"frames_processed"`
	FramesDiscarded uint64    `json:"frames_discarded"`
	InferenceErrors uint64    `json:"inference_errors"`
}
