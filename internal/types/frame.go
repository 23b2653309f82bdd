package types

import "time"

// Frame represents a single decoded video frame
type Frame struct {
	// Seq is the monotonic sequence number within one media source
	Seq uint64
	// Timestamp is when the frame was captured/decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains packed RGB24 pixels, row-major
	Data []byte
	// Source identifies the media ("camera", "clip", "synthetic")
	Source string
	// TraceID is a unique identifier for tracing a frame across the pipeline
	TraceID string
}

// Stride returns bytes per row.
func (f *Frame) Stride() int {
	return f.Width * 3
}
