package rules

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/care/postura/internal/geometry"
	"github.com/care/postura/internal/pose"
)

// legAt returns hip/knee/ankle keypoints with the knee at (100,100), the hip
// straight above it and the ankle placed so the knee bends by deg.
func legAt(side string, deg, conf float64) []pose.Keypoint {
	rad := (-90 + deg) * math.Pi / 180
	return []pose.Keypoint{
		{Name: pose.LandmarkID(side + "_hip"), X: 100, Y: 0, Confidence: conf},
		{Name: pose.LandmarkID(side + "_knee"), X: 100, Y: 100, Confidence: conf},
		{Name: pose.LandmarkID(side + "_ankle"), X: 100 + 100*math.Cos(rad), Y: 100 + 100*math.Sin(rad), Confidence: conf},
	}
}

func kneeRule(side Side, min, max float64, msg string) *AngleRule {
	s := string(side)
	if s == "" {
		s = "left"
	}
	return &AngleRule{
		Meta: Meta{JointID: "knee", Range: Range{Min: min, Max: max}, Message: msg, Side: side},
		A:    pose.LandmarkID(s + "_hip"), Vertex: pose.LandmarkID(s + "_knee"), C: pose.LandmarkID(s + "_ankle"),
	}
}

func TestEvaluate_ViolationOutsideRange(t *testing.T) {
	e := NewEngine(Config{})
	p := pose.Pose{Keypoints: legAt("left", 130, 0.9)}

	ev := e.Evaluate(p, []Rule{kneeRule(SideNone, 70, 110, "Bend your knee more")})

	assert.False(t, ev.IsCorrect)
	assert.Equal(t, []string{"Bend your knee more"}, ev.Messages)
	assert.InDelta(t, 130, ev.Angles[pose.LeftKnee], 1e-6)
	require.Len(t, ev.Active, 1)
	assert.False(t, ev.Active[0].InRange)
}

func TestEvaluate_InRangeSingleRule(t *testing.T) {
	e := NewEngine(Config{})
	p := pose.Pose{Keypoints: legAt("left", 95, 0.9)}

	ev := e.Evaluate(p, []Rule{kneeRule(SideNone, 80, 120, "Keep the knee between 80 and 120")})

	assert.True(t, ev.IsCorrect)
	assert.Empty(t, ev.Messages)
	require.Len(t, ev.Active, 1)
	assert.InDelta(t, 95, ev.Active[0].Angle, 1e-6)
}

// stretch scales keypoints per axis, as resizing a 640x480 frame to a
// 256x256 model input does.
func stretch(kps []pose.Keypoint, sx, sy float64) []pose.Keypoint {
	out := make([]pose.Keypoint, len(kps))
	for i, kp := range kps {
		kp.X *= sx
		kp.Y *= sy
		out[i] = kp
	}
	return out
}

// rotatedLeg is a knee bent deg degrees at (320,240) in a 640x480 frame,
// with the thigh turned rot degrees from vertical.
func rotatedLeg(deg, rot float64) []pose.Keypoint {
	thigh := (rot - 90) * math.Pi / 180
	shin := (rot - 90 + deg) * math.Pi / 180
	return []pose.Keypoint{
		{Name: pose.LeftHip, X: 320 + 100*math.Cos(thigh), Y: 240 + 100*math.Sin(thigh), Confidence: 0.9},
		{Name: pose.LeftKnee, X: 320, Y: 240, Confidence: 0.9},
		{Name: pose.LeftAnkle, X: 320 + 100*math.Cos(shin), Y: 240 + 100*math.Sin(shin), Confidence: 0.9},
	}
}

func TestEvaluateIn_NonSquareDetection(t *testing.T) {
	e := NewEngine(Config{})
	rule := []Rule{kneeRule(SideNone, 80, 100, "Bend your knee")}
	p := pose.Pose{Keypoints: stretch(rotatedLeg(95, 135), 256.0/640, 256.0/480)}

	// Measured on the stretched points the knee reads about 78.7.
	raw := e.Evaluate(p, rule)
	assert.False(t, raw.IsCorrect)
	assert.InDelta(t, 78.66, raw.Angles[pose.LeftKnee], 0.01)

	toVideo := func(pt geometry.Point) geometry.Point {
		return geometry.Point{X: pt.X * 640 / 256, Y: pt.Y * 480 / 256}
	}
	ev := e.EvaluateIn(p, rule, toVideo)
	assert.True(t, ev.IsCorrect)
	assert.Empty(t, ev.Messages)
	assert.InDelta(t, 95, ev.Angles[pose.LeftKnee], 1e-6)

	// Active points stay in detection space for guide mapping.
	require.Len(t, ev.Active, 1)
	assert.InDelta(t, 128, ev.Active[0].Points[1].X, 1e-9)
	assert.InDelta(t, 128, ev.Active[0].Points[1].Y, 1e-9)
}

func TestEvaluateIn_InclineNonSquareDetection(t *testing.T) {
	e := NewEngine(Config{})
	rule := []Rule{&InclineRule{
		Meta: Meta{JointID: "torso", Range: Range{Min: 25, Max: 35}, Message: "Lean forward a little"},
		From: pose.LeftShoulder, To: pose.LeftHip,
	}}
	// A trunk leaning 30° from vertical in a 640x480 frame.
	rad := 30 * math.Pi / 180
	kps := []pose.Keypoint{
		{Name: pose.LeftShoulder, X: 300, Y: 100, Confidence: 0.9},
		{Name: pose.LeftHip, X: 300 + 200*math.Sin(rad), Y: 100 + 200*math.Cos(rad), Confidence: 0.9},
	}
	p := pose.Pose{Keypoints: stretch(kps, 256.0/640, 256.0/480)}

	assert.False(t, e.Evaluate(p, rule).IsCorrect)

	ev := e.EvaluateIn(p, rule, func(pt geometry.Point) geometry.Point {
		return geometry.Point{X: pt.X * 640 / 256, Y: pt.Y * 480 / 256}
	})
	assert.True(t, ev.IsCorrect)
	assert.InDelta(t, 30, ev.Angles[pose.LeftHip], 1e-6)
}

func TestEvaluate_DominantSideSuppression(t *testing.T) {
	kps := []pose.Keypoint{
		{Name: pose.LeftShoulder, Confidence: 0.05},
		{Name: pose.LeftHip, X: 100, Y: 0, Confidence: 0.05},
		{Name: pose.LeftKnee, X: 100, Y: 100, Confidence: 0.05},
		{Name: pose.LeftAnkle, X: 150, Y: 150, Confidence: 0.05},
		{Name: pose.RightShoulder, Confidence: 0.3},
		{Name: pose.RightHip, X: 100, Y: 0, Confidence: 0.2},
		{Name: pose.RightKnee, X: 100, Y: 100, Confidence: 0.2},
		{Name: pose.RightAnkle, X: 150, Y: 150, Confidence: 0.2},
	}
	p := pose.Pose{Keypoints: kps}
	rs := []Rule{
		kneeRule(SideLeft, 0, 10, "left"),
		kneeRule(SideRight, 0, 10, "right"),
	}

	// Lower the threshold so the confidence filter does not hide the effect.
	e := NewEngine(Config{MinConfidence: 0.01})
	ev := e.Evaluate(p, rs)

	assert.InDelta(t, 0.2, ev.LeftSum, 1e-9)
	assert.InDelta(t, 0.9, ev.RightSum, 1e-9)
	assert.Equal(t, SideLeft, ev.Suppressed)
	for _, a := range ev.Active {
		assert.NotEqual(t, SideLeft, a.Rule.Info().Side)
	}
	assert.Equal(t, []string{"right"}, ev.Messages)
}

func TestEvaluate_NoSuppressionWithinMargin(t *testing.T) {
	kps := append(legAt("left", 90, 0.9), legAt("right", 90, 0.9)...)
	e := NewEngine(Config{})
	ev := e.Evaluate(pose.Pose{Keypoints: kps}, []Rule{
		kneeRule(SideLeft, 80, 100, "l"),
		kneeRule(SideRight, 80, 100, "r"),
	})

	assert.Equal(t, SideNone, ev.Suppressed)
	assert.Len(t, ev.Active, 2)
	assert.True(t, ev.IsCorrect)
}

func TestEvaluate_SkipsLowConfidenceAndMissing(t *testing.T) {
	e := NewEngine(Config{})
	kps := legAt("left", 130, 0.9)
	kps[2].Confidence = 0.49

	ev := e.Evaluate(pose.Pose{Keypoints: kps}, []Rule{
		kneeRule(SideNone, 70, 110, "low"),
		&InclineRule{Meta: Meta{JointID: "trunk", Range: Range{0, 20}, Message: "missing"}, From: pose.LeftShoulder, To: pose.LeftHip},
	})

	assert.True(t, ev.IsCorrect, "skipped rules are neither pass nor fail")
	assert.Empty(t, ev.Active)
	assert.Empty(t, ev.Angles)
}

func TestEvaluate_InclineRule(t *testing.T) {
	e := NewEngine(Config{})
	p := pose.Pose{Keypoints: []pose.Keypoint{
		{Name: pose.LeftShoulder, X: 130, Y: 0, Confidence: 0.8},
		{Name: pose.LeftHip, X: 100, Y: 100, Confidence: 0.8},
	}}
	r := &InclineRule{Meta: Meta{JointID: "trunk", Range: Range{0, 10}, Message: "Straighten your back"}, From: pose.LeftShoulder, To: pose.LeftHip}

	ev := e.Evaluate(p, []Rule{r})

	assert.False(t, ev.IsCorrect)
	assert.InDelta(t, math.Atan2(30, 100)*180/math.Pi, ev.Angles[pose.LeftHip], 1e-6)
}

func TestEvaluate_MessagesKeepRuleOrder(t *testing.T) {
	e := NewEngine(Config{})
	kps := append(legAt("left", 150, 0.9), legAt("right", 30, 0.9)...)
	ev := e.Evaluate(pose.Pose{Keypoints: kps}, []Rule{
		kneeRule(SideLeft, 80, 100, "first"),
		kneeRule(SideRight, 80, 100, "second"),
	})
	assert.Equal(t, []string{"first", "second"}, ev.Messages)
}

func TestEvaluate_NoRules(t *testing.T) {
	ev := NewEngine(Config{}).Evaluate(pose.Pose{}, nil)
	assert.True(t, ev.IsCorrect)
	assert.Empty(t, ev.Messages)
}

func TestLatch_FirstViolationAndStability(t *testing.T) {
	l := NewLatch("")

	msg, changed := l.Update(Evaluation{IsCorrect: true})
	assert.Equal(t, DefaultCorrectMessage, msg)
	assert.True(t, changed)

	_, changed = l.Update(Evaluation{IsCorrect: true})
	assert.False(t, changed)

	msg, changed = l.Update(Evaluation{Messages: []string{"a", "b"}})
	assert.Equal(t, "a", msg)
	assert.True(t, changed)

	msg, changed = l.Update(Evaluation{Messages: []string{"a"}})
	assert.Equal(t, "a", msg)
	assert.False(t, changed)

	l.Reset()
	assert.Empty(t, l.Current())
	_, changed = l.Update(Evaluation{Messages: []string{"a"}})
	assert.True(t, changed)
}
