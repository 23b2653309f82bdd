package worker

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/gift"

	"github.com/care/postura/internal/types"
)

// Preprocessor resizes frames to the model's input size and JPEG-encodes
// them. Keypoints come back in that input frame (detection space).
type Preprocessor struct {
	width   int
	height  int
	quality int
	filter  *gift.GIFT
}

// NewPreprocessor returns a preprocessor for a width×height model input.
func NewPreprocessor(width, height, quality int) (*Preprocessor, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %dx%d", width, height)
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	return &Preprocessor{
		width:   width,
		height:  height,
		quality: quality,
		filter:  gift.New(gift.Resize(width, height, gift.LinearResampling)),
	}, nil
}

// Encode returns the resized JPEG of frame.
func (p *Preprocessor) Encode(frame *types.Frame) ([]byte, error) {
	src, err := toImage(frame)
	if err != nil {
		return nil, err
	}

	dst := image.NewNRGBA(p.filter.Bounds(src.Bounds()))
	p.filter.Draw(dst, src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: p.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// toImage wraps packed RGB24 frame data as an image.
func toImage(frame *types.Frame) (*image.NRGBA, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return nil, fmt.Errorf("frame %d has no size", frame.Seq)
	}
	if want := frame.Stride() * frame.Height; len(frame.Data) < want {
		return nil, fmt.Errorf("frame %d: %d bytes, want %d", frame.Seq, len(frame.Data), want)
	}

	img := image.NewNRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i < frame.Width*frame.Height; i, j = i+1, j+3 {
		img.Pix[i*4+0] = frame.Data[j+0]
		img.Pix[i*4+1] = frame.Data[j+1]
		img.Pix[i*4+2] = frame.Data[j+2]
		img.Pix[i*4+3] = 0xff
	}
	return img, nil
}
