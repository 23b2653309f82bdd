package gstreamer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/care/postura/internal/capture"
)

// ErrorCategory classifies pipeline errors for logs and for the status shown
// to the patient.
type ErrorCategory int

const (
	// ErrCategoryPermission is a device the process may not open.
	ErrCategoryPermission ErrorCategory = iota
	// ErrCategoryDevice is a missing or busy capture device.
	ErrCategoryDevice
	// ErrCategoryNotFound is a clip that does not exist or cannot be read.
	ErrCategoryNotFound
	// ErrCategoryCodec is a stream GStreamer cannot demux or decode.
	ErrCategoryCodec
	// ErrCategoryUnknown is anything else.
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryPermission:
		return "permission"
	case ErrCategoryDevice:
		return "device"
	case ErrCategoryNotFound:
		return "not_found"
	case ErrCategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

var (
	// ErrClipNotFound is returned when a clip path cannot be opened.
	ErrClipNotFound = errors.New("clip not found")
	// ErrDeviceUnavailable is returned when no camera can be opened.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// ClassifyGStreamerError categorises a bus error.
// go-gst's GError does not expose its domain, so this matches on text.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return classify(gerr.Error(), gerr.DebugString())
}

func classify(message, debug string) ErrorCategory {
	msg := strings.ToLower(message)
	dbg := strings.ToLower(debug)

	// Order matters: "permission denied" also reads like a device failure.
	switch {
	case containsAny(msg, dbg, "permission denied", "not authorized", "eacces", "operation not permitted"):
		return ErrCategoryPermission
	case containsAny(msg, dbg, "resource not found", "no such file", "could not open file", "enoent"):
		return ErrCategoryNotFound
	case containsAny(msg, dbg, "device or resource busy", "ebusy", "cannot identify device", "no such device", "is not a capture device"):
		return ErrCategoryDevice
	case containsAny(msg, dbg, "decode", "demux", "demultiplex", "codec", "not-negotiated", "format", "missing plugin", "typefind"):
		return ErrCategoryCodec
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(msg, dbg string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(msg, k) || strings.Contains(dbg, k) {
			return true
		}
	}
	return false
}

// sourceError turns a classified bus error into the error a Media reports.
func sourceError(category ErrorCategory, message string) error {
	switch category {
	case ErrCategoryPermission:
		return fmt.Errorf("%s: %w", message, capture.ErrPermissionDenied)
	case ErrCategoryDevice:
		return fmt.Errorf("%s: %w", message, ErrDeviceUnavailable)
	case ErrCategoryNotFound:
		return fmt.Errorf("%s: %w", message, ErrClipNotFound)
	default:
		return fmt.Errorf("pipeline error [%s]: %s", category, message)
	}
}
