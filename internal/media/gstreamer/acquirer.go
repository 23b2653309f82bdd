package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/care/postura/internal/capture"
)

// Acquirer opens the camera and clips as GStreamer pipelines.
type Acquirer struct {
	// Device is the V4L2 node; empty lets v4l2src pick the default.
	Device string
	Format Format
}

// NewAcquirer checks that GStreamer can create elements before any session
// depends on it.
func NewAcquirer(device string, f Format) (*Acquirer, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("capture size must be positive, got %dx%d", f.Width, f.Height)
	}

	gst.Init(nil)
	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return nil, fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	return &Acquirer{Device: device, Format: f}, nil
}

// OpenCamera blocks until the camera pipeline plays. A device the process
// may not open is reported as capture.ErrPermissionDenied.
func (a *Acquirer) OpenCamera(ctx context.Context) (capture.Media, error) {
	if a.Device != "" {
		if _, err := os.Stat(a.Device); err != nil {
			if errors.Is(err, os.ErrPermission) {
				return nil, fmt.Errorf("camera %s: %w", a.Device, capture.ErrPermissionDenied)
			}
			return nil, fmt.Errorf("camera %s: %w", a.Device, ErrDeviceUnavailable)
		}
	}

	e, err := buildCamera(a.Device, a.Format)
	if err != nil {
		return nil, err
	}
	name := a.Device
	if name == "" {
		name = "camera"
	}
	return a.open(ctx, newSource(name, a.Format, e))
}

// OpenClip blocks until the clip pipeline plays.
func (a *Acquirer) OpenClip(ctx context.Context, path string) (capture.Media, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("clip %s: %w", path, ErrClipNotFound)
	}

	e, err := buildClip(path, a.Format)
	if err != nil {
		return nil, err
	}
	return a.open(ctx, newSource(path, a.Format, e))
}

func (a *Acquirer) open(ctx context.Context, src *Source) (capture.Media, error) {
	if err := src.start(); err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to start pipeline %s: %w", src.name, err)
	}

	if err := src.awaitPlaying(ctx); err != nil {
		src.Close()
		return nil, err
	}

	slog.Info("gstreamer: source playing", "source", src.name, "width", a.Format.Width, "height", a.Format.Height)
	return src, nil
}
