package rules

import (
	"github.com/care/postura/internal/geometry"
	"github.com/care/postura/internal/pose"
)

const (
	// DefaultMinConfidence is the lowest landmark confidence a rule accepts.
	DefaultMinConfidence = 0.5
	// DefaultSideMargin is how much larger one side's summed confidence must
	// be before the other side's rules are suppressed.
	DefaultSideMargin = 0.4
)

// Config tunes the engine.
type Config struct {
	MinConfidence float64
	SideMargin    float64
}

// Projection maps a detection-space point into the space angles are
// measured in.
type Projection func(geometry.Point) geometry.Point

// ActiveRule is a rule that was evaluated this frame.
type ActiveRule struct {
	Rule Rule
	// Points are the resolved landmark positions in detection space, in
	// the rule's point order.
	Points  []geometry.Point
	Angle   float64
	InRange bool
}

// Evaluation is one frame's verdict.
type Evaluation struct {
	IsCorrect bool
	// Messages holds violation messages in rule order.
	Messages []string
	// Angles is keyed by the rule's middle (angle) or second (incline) point.
	Angles     map[pose.LandmarkID]float64
	Active     []ActiveRule
	Suppressed Side
	LeftSum    float64
	RightSum   float64
}

// Engine evaluates rule sets. It holds no per-frame state.
type Engine struct {
	cfg Config
}

// NewEngine returns an engine; zero config fields take their defaults.
func NewEngine(cfg Config) *Engine {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	if cfg.SideMargin <= 0 {
		cfg.SideMargin = DefaultSideMargin
	}
	return &Engine{cfg: cfg}
}

// Evaluate applies rules to p, measuring angles in detection space. Rules
// whose points are missing or below the confidence threshold are skipped; a
// frame with no evaluated rule is correct.
func (e *Engine) Evaluate(p pose.Pose, rules []Rule) Evaluation {
	return e.EvaluateIn(p, rules, nil)
}

// EvaluateIn is Evaluate with angles measured on points passed through
// measure. The model input is a per-axis stretch of the video frame, so
// angles are only true once points are back in video proportions. A nil
// measure leaves points in detection space.
func (e *Engine) EvaluateIn(p pose.Pose, rules []Rule, measure Projection) Evaluation {
	ev := Evaluation{
		IsCorrect: true,
		Angles:    make(map[pose.LandmarkID]float64),
	}
	ev.LeftSum = sideSum(p, pose.LeftSide)
	ev.RightSum = sideSum(p, pose.RightSide)
	ev.Suppressed = e.suppressedSide(ev.LeftSum, ev.RightSum)

	for _, r := range rules {
		info := r.Info()
		if ev.Suppressed != SideNone && info.Side == ev.Suppressed {
			continue
		}

		pts, ok := e.resolve(p, r.Points())
		if !ok {
			continue
		}

		m := pts
		if measure != nil {
			m = make([]geometry.Point, len(pts))
			for i, pt := range pts {
				m[i] = measure(pt)
			}
		}

		var angle float64
		switch r.(type) {
		case *AngleRule:
			angle = geometry.IncludedAngle(m[0], m[1], m[2])
		case *InclineRule:
			angle = geometry.InclineFromVertical(m[0], m[1])
		default:
			continue
		}

		ev.Angles[r.Points()[1]] = angle
		in := info.Range.Contains(angle)
		if !in {
			ev.IsCorrect = false
			ev.Messages = append(ev.Messages, info.Message)
		}
		ev.Active = append(ev.Active, ActiveRule{Rule: r, Points: pts, Angle: angle, InRange: in})
	}
	return ev
}

func (e *Engine) suppressedSide(left, right float64) Side {
	switch {
	case right-left > e.cfg.SideMargin:
		return SideLeft
	case left-right > e.cfg.SideMargin:
		return SideRight
	default:
		return SideNone
	}
}

func (e *Engine) resolve(p pose.Pose, names []pose.LandmarkID) ([]geometry.Point, bool) {
	pts := make([]geometry.Point, 0, len(names))
	for _, n := range names {
		kp, ok := p.Find(n)
		if !ok || kp.Confidence < e.cfg.MinConfidence {
			return nil, false
		}
		pts = append(pts, kp.Point())
	}
	return pts, true
}

func sideSum(p pose.Pose, side []pose.LandmarkID) float64 {
	var sum float64
	for _, n := range side {
		sum += p.Confidence(n)
	}
	return sum
}
