// Package pose models the output of the external pose estimator and the
// per-session temporal state applied to it (smoothing, mirroring).
package pose

import "github.com/care/postura/internal/geometry"

// LandmarkID names an anatomical landmark ("left_knee").
type LandmarkID string

// Keypoint is one landmark of one frame, in detection space.
type Keypoint struct {
	Name       LandmarkID `json:"name" msgpack:"name"`
	X          float64    `json:"x" msgpack:"x"`
	Y          float64    `json:"y" msgpack:"y"`
	Confidence float64    `json:"confidence" msgpack:"confidence"`
}

// Point returns the keypoint position.
func (k Keypoint) Point() geometry.Point {
	return geometry.Point{X: k.X, Y: k.Y}
}

// Pose is the keypoint set for one detected subject.
type Pose struct {
	Keypoints []Keypoint `json:"keypoints" msgpack:"keypoints"`
	Score     float64    `json:"score" msgpack:"score"`
}

// Find returns the first keypoint with the given name.
func (p Pose) Find(name LandmarkID) (Keypoint, bool) {
	for _, kp := range p.Keypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// Confidence returns the confidence of name, or 0 when absent.
func (p Pose) Confidence(name LandmarkID) float64 {
	kp, ok := p.Find(name)
	if !ok {
		return 0
	}
	return kp.Confidence
}

// Primary returns the first detected pose. Only the primary subject is
// evaluated; extra detections are ignored.
func Primary(poses []Pose) (Pose, bool) {
	if len(poses) == 0 {
		return Pose{}, false
	}
	return poses[0], true
}

// Mirror reflects every keypoint horizontally inside a frame of the given
// width. Camera frames are shown mirrored, so they are estimated mirrored.
func Mirror(kps []Keypoint, width float64) []Keypoint {
	out := make([]Keypoint, len(kps))
	for i, kp := range kps {
		kp.X = width - kp.X
		out[i] = kp
	}
	return out
}
