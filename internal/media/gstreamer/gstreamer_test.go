package gstreamer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/postura/internal/capture"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{"v4l2 permission", "Could not open device '/dev/video0' for reading and writing.", "system error: Permission denied", ErrCategoryPermission},
		{"busy camera", "Could not open device.", "Device or resource busy", ErrCategoryDevice},
		{"missing node", "Cannot identify device '/dev/video9'.", "", ErrCategoryDevice},
		{"missing clip", "Resource not found.", "No such file or directory", ErrCategoryNotFound},
		{"bad container", "Could not demultiplex stream.", "", ErrCategoryCodec},
		{"negotiation", "Internal data stream error.", "streaming stopped, reason not-negotiated", ErrCategoryCodec},
		{"other", "Something odd", "", ErrCategoryUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.message, tt.debug))
		})
	}

	assert.Equal(t, ErrCategoryUnknown, ClassifyGStreamerError(nil))
}

func TestSourceError(t *testing.T) {
	assert.ErrorIs(t, sourceError(ErrCategoryPermission, "denied"), capture.ErrPermissionDenied)
	assert.ErrorIs(t, sourceError(ErrCategoryDevice, "busy"), ErrDeviceUnavailable)
	assert.ErrorIs(t, sourceError(ErrCategoryNotFound, "gone"), ErrClipNotFound)

	err := sourceError(ErrCategoryCodec, "bad stream")
	assert.Contains(t, err.Error(), "codec")
	assert.NotErrorIs(t, err, capture.ErrPermissionDenied)
}

func TestFormatCaps(t *testing.T) {
	assert.Equal(t, "video/x-raw,format=RGB,width=640,height=480,framerate=15/1", Format{Width: 640, Height: 480, FPS: 15}.caps())
	assert.Equal(t, "video/x-raw,format=RGB,width=320,height=240", Format{Width: 320, Height: 240}.caps())
}

func TestOpenClip_MissingFile(t *testing.T) {
	a := &Acquirer{Format: Format{Width: 64, Height: 48}}
	_, err := a.OpenClip(context.Background(), "/nonexistent/clip.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrClipNotFound)
}

func TestOpenCamera_MissingDevice(t *testing.T) {
	a := &Acquirer{Device: "/dev/nonexistent-video", Format: Format{Width: 64, Height: 48}}
	_, err := a.OpenCamera(context.Background())
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}
