// Package geometry holds the planar primitives used to measure joints.
//
// All functions are pure. Inputs are assumed finite; coincident points are
// not guarded and yield a finite but meaningless angle.
package geometry

import "math"

// Point is a 2D position in whatever space the caller works in
// (detection space or render space, never mixed).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p-q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// IncludedAngle returns the angle at vertex b between rays b→a and b→c,
// in degrees within [0,180]. IncludedAngle(a,b,c) == IncludedAngle(c,b,a).
func IncludedAngle(a, b, c Point) float64 {
	ra := math.Atan2(a.Y-b.Y, a.X-b.X)
	rc := math.Atan2(c.Y-b.Y, c.X-b.X)

	deg := math.Abs(rc-ra) * 180 / math.Pi
	if deg > 180 {
		deg = 360 - deg
	}
	return deg
}

// InclineFromVertical returns the angle between segment a→b and the vertical
// axis, in degrees within [0,90].
func InclineFromVertical(a, b Point) float64 {
	d := b.Sub(a)
	deg := math.Abs(math.Atan2(d.X, d.Y) * 180 / math.Pi)
	if deg > 90 {
		deg = 180 - deg
	}
	return deg
}

// Cross returns the z component of (a-o) × (b-o). In y-down screen space a
// positive value means a→b turns clockwise around o.
func Cross(o, a, b Point) float64 {
	oa := a.Sub(o)
	ob := b.Sub(o)
	return oa.X*ob.Y - oa.Y*ob.X
}

// Radians converts degrees to radians.
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}
