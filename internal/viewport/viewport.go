// Package viewport maps detection-space coordinates onto the render surface
// using "contain" letterboxing.
package viewport

import "github.com/care/postura/internal/geometry"

// Size is a width/height pair in pixels.
type Size struct {
	Width  float64
	Height float64
}

// Valid reports whether both dimensions are known and positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Fit is the contain transform for one video size. The zero Fit is not
// usable; obtain one from Mapper.Fit.
type Fit struct {
	Scale   float64
	OffsetX float64
	OffsetY float64

	video     Size
	detection Size
}

// Mapper holds the fixed sizes of the render surface and of the pose
// model's inference input.
type Mapper struct {
	surface   Size
	detection Size
}

// New returns a Mapper for a surface and a detection frame.
func New(surface, detection Size) *Mapper {
	return &Mapper{surface: surface, detection: detection}
}

// Surface returns the render surface size.
func (m *Mapper) Surface() Size { return m.surface }

// Detection returns the pose model's input size.
func (m *Mapper) Detection() Size { return m.detection }

// Fit computes the contain transform for video. ok is false while the video
// size is unknown (media not ready) or any size is zero; the caller must
// skip drawing for that frame.
func (m *Mapper) Fit(video Size) (Fit, bool) {
	if !video.Valid() || !m.surface.Valid() || !m.detection.Valid() {
		return Fit{}, false
	}

	videoRatio := video.Width / video.Height
	surfaceRatio := m.surface.Width / m.surface.Height

	f := Fit{video: video, detection: m.detection}
	if videoRatio > surfaceRatio {
		f.Scale = m.surface.Width / video.Width
		f.OffsetY = (m.surface.Height - video.Height*f.Scale) / 2
	} else {
		f.Scale = m.surface.Height / video.Height
		f.OffsetX = (m.surface.Width - video.Width*f.Scale) / 2
	}
	return f, true
}

// ToVideo maps a detection-space point into video pixels: normalise against
// the inference input, then expand against the video size. The inference
// input is the frame stretched per axis, so this undoes the stretch.
func (f Fit) ToVideo(p geometry.Point) geometry.Point {
	return geometry.Point{
		X: p.X / f.detection.Width * f.video.Width,
		Y: p.Y / f.detection.Height * f.video.Height,
	}
}

// ToRender maps a detection-space point into render space: video pixels
// scaled uniformly, then offset into the letterbox.
func (f Fit) ToRender(p geometry.Point) geometry.Point {
	v := f.ToVideo(p)
	return geometry.Point{
		X: v.X*f.Scale + f.OffsetX,
		Y: v.Y*f.Scale + f.OffsetY,
	}
}

// Video returns the video size the fit was computed for.
func (f Fit) Video() Size { return f.video }
