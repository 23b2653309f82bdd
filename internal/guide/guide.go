// Package guide derives the target-sector arcs and highlighted skeleton
// segments drawn for each evaluated rule. Every input point is mapped into
// render space before any geometry is computed.
package guide

import (
	"math"

	"github.com/care/postura/internal/geometry"
	"github.com/care/postura/internal/rules"
	"github.com/care/postura/internal/viewport"
)

// DefaultRadius is the arc radius in render pixels.
const DefaultRadius = 40.0

// Stroke widths for highlighted segments.
const (
	StrokeCorrect   = 4.0
	StrokeViolation = 6.0
)

// Guide is one dashed target sector.
type Guide struct {
	JointID      string         `json:"joint_id"`
	Center       geometry.Point `json:"center"`
	BaseAngleRad float64        `json:"base_angle_rad"`
	Range        rules.Range    `json:"accepted_range"`
	Clockwise    bool           `json:"clockwise"`
	Radius       float64        `json:"radius"`
}

// Sector returns the arc bounds in radians. In y-down screen space a
// clockwise sweep increases the angle.
func (g Guide) Sector() (start, end float64) {
	lo := geometry.Radians(g.Range.Min)
	hi := geometry.Radians(g.Range.Max)
	if g.Clockwise {
		return g.BaseAngleRad + lo, g.BaseAngleRad + hi
	}
	return g.BaseAngleRad - lo, g.BaseAngleRad - hi
}

// Segment is a highlighted bone between two consecutive rule points.
type Segment struct {
	From    geometry.Point
	To      geometry.Point
	Correct bool
	Width   float64
}

// Build returns one guide per evaluated rule.
func Build(active []rules.ActiveRule, fit viewport.Fit, radius float64) []Guide {
	if radius <= 0 {
		radius = DefaultRadius
	}

	guides := make([]Guide, 0, len(active))
	for _, a := range active {
		pts := toRender(a.Points, fit)
		info := a.Rule.Info()
		g := Guide{JointID: info.JointID, Range: info.Range, Radius: radius}

		switch a.Rule.(type) {
		case *rules.InclineRule:
			g.Center = pts[1]
			g.BaseAngleRad = -math.Pi / 2
			g.Clockwise = true
		case *rules.AngleRule:
			start, center, end := pts[0], pts[1], pts[2]
			g.Center = center
			g.BaseAngleRad = math.Atan2(start.Y-center.Y, start.X-center.X)
			g.Clockwise = geometry.Cross(center, start, end) > 0
		default:
			continue
		}
		guides = append(guides, g)
	}
	return guides
}

// Highlights returns the consecutive point pairs of every evaluated rule.
// All segments share the aggregate verdict's colour and weight.
func Highlights(active []rules.ActiveRule, fit viewport.Fit, correct bool) []Segment {
	width := StrokeViolation
	if correct {
		width = StrokeCorrect
	}

	var segs []Segment
	for _, a := range active {
		pts := toRender(a.Points, fit)
		for i := 0; i+1 < len(pts); i++ {
			segs = append(segs, Segment{From: pts[i], To: pts[i+1], Correct: correct, Width: width})
		}
	}
	return segs
}

func toRender(pts []geometry.Point, fit viewport.Fit) []geometry.Point {
	out := make([]geometry.Point, len(pts))
	for i, p := range pts {
		out[i] = fit.ToRender(p)
	}
	return out
}
