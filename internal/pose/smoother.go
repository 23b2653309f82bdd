package pose

import "fmt"

// Pairing selects how a current keypoint finds its previous-frame value.
type Pairing string

const (
	// PairByIndex pairs keypoints at the same index with the same name.
	// A model that reorders its output silently loses smoothing.
	PairByIndex Pairing = "index"
	// PairByName pairs keypoints by name regardless of position.
	PairByName Pairing = "name"
)

// DefaultAlpha weights the current frame in the blend.
const DefaultAlpha = 0.5

// ParsePairing validates a configured pairing policy. Empty means index.
func ParsePairing(s string) (Pairing, error) {
	switch Pairing(s) {
	case "", PairByIndex:
		return PairByIndex, nil
	case PairByName:
		return PairByName, nil
	default:
		return "", fmt.Errorf("unknown smoothing pairing %q (want index|name)", s)
	}
}

// Smooth blends each current keypoint position with its paired previous
// value: alpha*current + (1-alpha)*previous. Confidence is never blended;
// the current frame's value always wins. Unpaired keypoints pass through.
// With no previous frame, current is returned unchanged.
func Smooth(current, previous []Keypoint, alpha float64, pairing Pairing) []Keypoint {
	if previous == nil {
		return current
	}

	var byName map[LandmarkID]Keypoint
	if pairing == PairByName {
		byName = make(map[LandmarkID]Keypoint, len(previous))
		for _, kp := range previous {
			byName[kp.Name] = kp
		}
	}

	out := make([]Keypoint, len(current))
	for i, cur := range current {
		var (
			prev Keypoint
			ok   bool
		)
		if byName != nil {
			prev, ok = byName[cur.Name]
		} else if i < len(previous) && previous[i].Name == cur.Name {
			prev, ok = previous[i], true
		}

		if !ok {
			out[i] = cur
			continue
		}
		out[i] = Keypoint{
			Name:       cur.Name,
			X:          alpha*cur.X + (1-alpha)*prev.X,
			Y:          alpha*cur.Y + (1-alpha)*prev.Y,
			Confidence: cur.Confidence,
		}
	}
	return out
}

// Smoother carries the previous smoothed frame for one session. It is not
// safe for concurrent use; each capture loop owns its own.
type Smoother struct {
	Alpha   float64
	Pairing Pairing

	previous []Keypoint
}

// NewSmoother returns a Smoother with an empty history.
func NewSmoother(alpha float64, pairing Pairing) *Smoother {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	if pairing == "" {
		pairing = PairByIndex
	}
	return &Smoother{Alpha: alpha, Pairing: pairing}
}

// Next smooths current against the last frame and records the result.
func (s *Smoother) Next(current []Keypoint) []Keypoint {
	out := Smooth(current, s.previous, s.Alpha, s.Pairing)
	s.previous = out
	return out
}

// Reset drops the history; the next frame passes through unchanged.
func (s *Smoother) Reset() {
	s.previous = nil
}
