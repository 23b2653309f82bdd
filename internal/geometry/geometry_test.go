package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncludedAngle_KnownValues(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c Point
		want    float64
	}{
		{"right angle", Point{1, 0}, Point{0, 0}, Point{0, 1}, 90},
		{"straight", Point{-1, 0}, Point{0, 0}, Point{1, 0}, 180},
		{"folded", Point{1, 0}, Point{0, 0}, Point{1, 0}, 0},
		{"reflex reflected", Point{-1, 0.01}, Point{0, 0}, Point{-1, -0.01}, 1.1459},
		{"45", Point{1, 1}, Point{0, 0}, Point{1, 0}, 45},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, IncludedAngle(tt.a, tt.b, tt.c), 1e-3)
		})
	}
}

func TestIncludedAngle_RangeAndSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pt := func() Point { return Point{rng.Float64()*2000 - 1000, rng.Float64()*2000 - 1000} }

	for i := 0; i < 5000; i++ {
		a, b, c := pt(), pt(), pt()
		got := IncludedAngle(a, b, c)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 180.0)
		assert.InDelta(t, got, IncludedAngle(c, b, a), 1e-9)
	}
}

func TestInclineFromVertical_Range(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 5000; i++ {
		a := Point{rng.Float64()*100 - 50, rng.Float64()*100 - 50}
		b := Point{rng.Float64()*100 - 50, rng.Float64()*100 - 50}
		got := InclineFromVertical(a, b)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 90.0)
	}
}

func TestInclineFromVertical_KnownValues(t *testing.T) {
	assert.InDelta(t, 0, InclineFromVertical(Point{0, 0}, Point{0, 10}), 1e-9)
	assert.InDelta(t, 0, InclineFromVertical(Point{0, 10}, Point{0, 0}), 1e-9)
	assert.InDelta(t, 90, InclineFromVertical(Point{0, 0}, Point{10, 0}), 1e-9)
	assert.InDelta(t, 45, InclineFromVertical(Point{0, 0}, Point{-5, -5}), 1e-9)
}

func TestCross_Winding(t *testing.T) {
	o := Point{0, 0}
	// x axis to y-down axis is a clockwise turn on screen.
	assert.Greater(t, Cross(o, Point{1, 0}, Point{0, 1}), 0.0)
	assert.Less(t, Cross(o, Point{0, 1}, Point{1, 0}), 0.0)
	assert.Zero(t, Cross(o, Point{1, 1}, Point{2, 2}))
}

func TestRadians(t *testing.T) {
	assert.InDelta(t, math.Pi, Radians(180), 1e-12)
}
