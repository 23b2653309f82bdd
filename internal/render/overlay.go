// Package render rasterises the skeleton and guide overlay in render space.
package render

import (
	"time"

	"github.com/care/postura/internal/geometry"
	"github.com/care/postura/internal/guide"
)

// Dot is a drawn keypoint.
type Dot struct {
	At         geometry.Point
	Confidence float64
}

// Line is a plain skeleton bone.
type Line struct {
	From geometry.Point
	To   geometry.Point
}

// Overlay is everything drawn for one frame. All coordinates are in render
// space.
type Overlay struct {
	Seq        uint64
	Time       time.Time
	Correct    bool
	Message    string
	Dots       []Dot
	Bones      []Line
	Highlights []guide.Segment
	Guides     []guide.Guide
}
