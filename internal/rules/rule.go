// Package rules evaluates clinician-authored joint rules against one frame's
// keypoints and decides the verdict shown to the patient.
package rules

import (
	"fmt"

	"github.com/care/postura/internal/pose"
)

// Side tags a rule as belonging to one body side.
type Side string

const (
	SideNone  Side = ""
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Range is an accepted angle interval in degrees, inclusive.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether deg lies inside the range.
func (r Range) Contains(deg float64) bool {
	return deg >= r.Min && deg <= r.Max
}

// Meta is what every rule kind carries.
type Meta struct {
	JointID string
	Range   Range
	Message string
	Side    Side
}

// Rule is either an *AngleRule or an *InclineRule.
type Rule interface {
	// Info returns the fields shared by every kind.
	Info() Meta
	// Points returns the landmark chain in authoring order.
	Points() []pose.LandmarkID
	// Kind returns "angle" or "incline".
	Kind() string

	sealed()
}

// AngleRule measures the included angle at Vertex between A and C.
type AngleRule struct {
	Meta
	A, Vertex, C pose.LandmarkID
}

func (r *AngleRule) Info() Meta                { return r.Meta }
func (r *AngleRule) Points() []pose.LandmarkID { return []pose.LandmarkID{r.A, r.Vertex, r.C} }
func (r *AngleRule) Kind() string              { return KindAngle }
func (r *AngleRule) sealed()                   {}

// InclineRule measures how far the segment From→To leans from vertical.
type InclineRule struct {
	Meta
	From, To pose.LandmarkID
}

func (r *InclineRule) Info() Meta                { return r.Meta }
func (r *InclineRule) Points() []pose.LandmarkID { return []pose.LandmarkID{r.From, r.To} }
func (r *InclineRule) Kind() string              { return KindIncline }
func (r *InclineRule) sealed()                   {}

// Rule kinds as written in exercise documents.
const (
	KindAngle   = "angle"
	KindIncline = "incline"
)

// ExerciseDefinition is an immutable rule set for one exercise.
type ExerciseDefinition struct {
	ID    string
	Name  string
	Rules []Rule
}

// validate checks the typed invariants a schema cannot express.
func validate(r Rule) error {
	m := r.Info()
	if m.Range.Min > m.Range.Max {
		return fmt.Errorf("%w: joint %q range min %.1f > max %.1f", ErrInvalidRule, m.JointID, m.Range.Min, m.Range.Max)
	}
	if m.Range.Min < 0 || m.Range.Max > 180 {
		return fmt.Errorf("%w: joint %q range [%.1f,%.1f] outside [0,180]", ErrInvalidRule, m.JointID, m.Range.Min, m.Range.Max)
	}
	for _, p := range r.Points() {
		if !pose.IsLandmark(p) {
			return fmt.Errorf("%w: joint %q unknown landmark %q", ErrInvalidRule, m.JointID, p)
		}
	}
	switch m.Side {
	case SideNone, SideLeft, SideRight:
	default:
		return fmt.Errorf("%w: joint %q unknown side %q", ErrInvalidRule, m.JointID, m.Side)
	}
	return nil
}
