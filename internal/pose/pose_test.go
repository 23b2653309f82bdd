package pose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmooth_FirstFrameIdentity(t *testing.T) {
	cur := []Keypoint{{Name: LeftKnee, X: 3, Y: 4, Confidence: 0.7}}
	got := Smooth(cur, nil, 0.5, PairByIndex)
	assert.Equal(t, cur, got)
}

func TestSmooth_BlendsPositionKeepsConfidence(t *testing.T) {
	cur := []Keypoint{{Name: "x", X: 10, Y: 10, Confidence: 0.9}}
	prev := []Keypoint{{Name: "x", X: 0, Y: 0, Confidence: 0.1}}

	for _, p := range []Pairing{PairByIndex, PairByName} {
		got := Smooth(cur, prev, 0.5, p)
		require.Len(t, got, 1)
		assert.Equal(t, Keypoint{Name: "x", X: 5, Y: 5, Confidence: 0.9}, got[0], "pairing %s", p)
	}
}

func TestSmooth_ReorderedLandmarks(t *testing.T) {
	cur := []Keypoint{
		{Name: LeftHip, X: 10, Y: 10, Confidence: 0.8},
		{Name: LeftKnee, X: 20, Y: 20, Confidence: 0.8},
	}
	prev := []Keypoint{
		{Name: LeftKnee, X: 0, Y: 0, Confidence: 0.8},
		{Name: LeftHip, X: 0, Y: 0, Confidence: 0.8},
	}

	byIndex := Smooth(cur, prev, 0.5, PairByIndex)
	assert.Equal(t, cur, byIndex, "index pairing passes mismatched names through")

	byName := Smooth(cur, prev, 0.5, PairByName)
	assert.Equal(t, 5.0, byName[0].X)
	assert.Equal(t, 10.0, byName[1].X)
}

func TestSmooth_ShorterPreviousFrame(t *testing.T) {
	cur := []Keypoint{{Name: Nose, X: 2}, {Name: LeftEye, X: 4}}
	prev := []Keypoint{{Name: Nose, X: 0}}

	got := Smooth(cur, prev, 0.5, PairByIndex)
	assert.Equal(t, 1.0, got[0].X)
	assert.Equal(t, 4.0, got[1].X)
}

func TestSmoother_ThreadsHistory(t *testing.T) {
	s := NewSmoother(0.5, "")
	assert.Equal(t, PairByIndex, s.Pairing)

	first := s.Next([]Keypoint{{Name: Nose, X: 8}})
	assert.Equal(t, 8.0, first[0].X)

	second := s.Next([]Keypoint{{Name: Nose, X: 0}})
	assert.Equal(t, 4.0, second[0].X)

	s.Reset()
	third := s.Next([]Keypoint{{Name: Nose, X: 0}})
	assert.Equal(t, 0.0, third[0].X)
}

func TestNewSmoother_ClampsAlpha(t *testing.T) {
	assert.Equal(t, DefaultAlpha, NewSmoother(0, PairByName).Alpha)
	assert.Equal(t, DefaultAlpha, NewSmoother(1.5, PairByName).Alpha)
	assert.Equal(t, 0.3, NewSmoother(0.3, PairByName).Alpha)
}

func TestParsePairing(t *testing.T) {
	p, err := ParsePairing("")
	require.NoError(t, err)
	assert.Equal(t, PairByIndex, p)

	p, err = ParsePairing("name")
	require.NoError(t, err)
	assert.Equal(t, PairByName, p)

	_, err = ParsePairing("position")
	assert.Error(t, err)
}

func TestMirror(t *testing.T) {
	in := []Keypoint{{Name: Nose, X: 10, Y: 3, Confidence: 0.4}}
	out := Mirror(in, 100)
	assert.Equal(t, 90.0, out[0].X)
	assert.Equal(t, 3.0, out[0].Y)
	assert.Equal(t, 10.0, in[0].X, "input untouched")
}

func TestPose_FindAndConfidence(t *testing.T) {
	p := Pose{Keypoints: []Keypoint{{Name: LeftHip, Confidence: 0.6}}}
	_, ok := p.Find(RightHip)
	assert.False(t, ok)
	assert.Equal(t, 0.6, p.Confidence(LeftHip))
	assert.Zero(t, p.Confidence(RightHip))

	_, ok = Primary(nil)
	assert.False(t, ok)
}

func TestSkeleton_UsesKnownLandmarks(t *testing.T) {
	assert.Len(t, Landmarks, 33)
	for _, b := range Skeleton {
		assert.True(t, IsLandmark(b.From), b.From)
		assert.True(t, IsLandmark(b.To), b.To)
	}
}
