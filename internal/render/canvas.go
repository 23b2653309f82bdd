package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/care/postura/internal/geometry"
	"github.com/care/postura/internal/guide"
)

var (
	colorBackground = color.RGBA{R: 0, G: 0, B: 0, A: 0}
	colorSkeleton   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorCorrect    = color.RGBA{R: 0, G: 200, B: 80, A: 255}
	colorViolation  = color.RGBA{R: 230, G: 40, B: 40, A: 255}
	colorGuide      = color.RGBA{R: 255, G: 210, B: 0, A: 220}
	colorBanner     = color.RGBA{R: 0, G: 0, B: 0, A: 160}
)

const (
	boneWidth   = 2.0
	dotRadius   = 4.0
	guideWidth  = 2.0
	dashRadians = 0.12
	circleSteps = 16
)

// CanvasConfig configures a Canvas.
type CanvasConfig struct {
	Width  int
	Height int
	// SnapshotDir, when set, receives a PNG every SnapshotEvery frames.
	SnapshotDir   string
	SnapshotEvery int
}

// Canvas is the render surface. Draw rasterises an overlay into a fresh
// RGBA image which becomes the latest frame served over HTTP.
type Canvas struct {
	cfg CanvasConfig

	mu     sync.RWMutex
	latest *image.RGBA
	drawn  uint64
}

// NewCanvas returns a canvas of the given size.
func NewCanvas(cfg CanvasConfig) (*Canvas, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("canvas size must be positive, got %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.SnapshotDir != "" {
		if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
		}
		if cfg.SnapshotEvery <= 0 {
			cfg.SnapshotEvery = 30
		}
	}
	return &Canvas{cfg: cfg}, nil
}

// Draw rasterises o. Snapshot failures are logged, never returned.
func (c *Canvas) Draw(o Overlay) {
	img := c.Rasterize(o)

	c.mu.Lock()
	c.latest = img
	c.drawn++
	n := c.drawn
	c.mu.Unlock()

	if c.cfg.SnapshotDir != "" && n%uint64(c.cfg.SnapshotEvery) == 0 {
		path := filepath.Join(c.cfg.SnapshotDir, fmt.Sprintf("overlay_%08d.png", o.Seq))
		if err := writePNG(path, img); err != nil {
			slog.Warn("failed to write overlay snapshot", "path", path, "error", err)
		}
	}
}

// Rasterize draws o onto a new transparent image.
func (c *Canvas) Rasterize(o Overlay) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.cfg.Width, c.cfg.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(colorBackground), image.Point{}, draw.Src)

	z := vector.NewRasterizer(c.cfg.Width, c.cfg.Height)

	for _, b := range o.Bones {
		c.fill(z, img, colorSkeleton, func() { strokePath(z, b.From, b.To, boneWidth) })
	}
	for _, d := range o.Dots {
		c.fill(z, img, colorSkeleton, func() { circlePath(z, d.At, dotRadius) })
	}
	for _, s := range o.Highlights {
		col := colorViolation
		if s.Correct {
			col = colorCorrect
		}
		c.fill(z, img, col, func() { strokePath(z, s.From, s.To, s.Width) })
	}
	for _, g := range o.Guides {
		c.drawGuide(z, img, g)
	}

	c.drawBanner(img, o)
	return img
}

// Drawn returns the number of overlays drawn so far.
func (c *Canvas) Drawn() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.drawn
}

// PNG encodes the latest overlay. ok is false before the first Draw.
func (c *Canvas) PNG() ([]byte, bool, error) {
	c.mu.RLock()
	img := c.latest
	c.mu.RUnlock()

	if img == nil {
		return nil, false, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, true, fmt.Errorf("failed to encode overlay: %w", err)
	}
	return buf.Bytes(), true, nil
}

// ServeHTTP serves the latest overlay as image/png.
func (c *Canvas) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, ok, err := c.PNG()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no overlay yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (c *Canvas) fill(z *vector.Rasterizer, img *image.RGBA, col color.RGBA, path func()) {
	z.Reset(c.cfg.Width, c.cfg.Height)
	path()
	z.Draw(img, img.Bounds(), image.NewUniform(col), image.Point{})
}

// drawGuide renders the target sector as a dashed arc plus its two bounding
// rays.
func (c *Canvas) drawGuide(z *vector.Rasterizer, img *image.RGBA, g guide.Guide) {
	start, end := g.Sector()
	if end < start {
		start, end = end, start
	}

	for a := start; a < end; a += 2 * dashRadians {
		b := math.Min(a+dashRadians, end)
		p := polar(g.Center, g.Radius, a)
		q := polar(g.Center, g.Radius, b)
		c.fill(z, img, colorGuide, func() { strokePath(z, p, q, guideWidth) })
	}

	from, to := g.Sector()
	for _, a := range []float64{from, to} {
		tip := polar(g.Center, g.Radius, a)
		c.fill(z, img, colorGuide, func() { strokePath(z, g.Center, tip, guideWidth/2) })
	}
}

func (c *Canvas) drawBanner(img *image.RGBA, o Overlay) {
	if o.Message == "" {
		return
	}
	const h = 22
	band := image.Rect(0, c.cfg.Height-h, c.cfg.Width, c.cfg.Height)
	draw.Draw(img, band, image.NewUniform(colorBanner), image.Point{}, draw.Over)

	col := colorViolation
	if o.Correct {
		col = colorCorrect
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, c.cfg.Height-7),
	}
	d.DrawString(o.Message)
}

// strokePath adds a filled quad of the given width around segment p→q.
func strokePath(z *vector.Rasterizer, p, q geometry.Point, width float64) {
	d := q.Sub(p)
	l := math.Hypot(d.X, d.Y)
	if l == 0 {
		circlePath(z, p, width/2)
		return
	}
	nx, ny := -d.Y/l*width/2, d.X/l*width/2

	z.MoveTo(float32(p.X+nx), float32(p.Y+ny))
	z.LineTo(float32(q.X+nx), float32(q.Y+ny))
	z.LineTo(float32(q.X-nx), float32(q.Y-ny))
	z.LineTo(float32(p.X-nx), float32(p.Y-ny))
	z.ClosePath()
}

func circlePath(z *vector.Rasterizer, c geometry.Point, r float64) {
	for i := 0; i <= circleSteps; i++ {
		a := 2 * math.Pi * float64(i) / circleSteps
		p := polar(c, r, a)
		if i == 0 {
			z.MoveTo(float32(p.X), float32(p.Y))
			continue
		}
		z.LineTo(float32(p.X), float32(p.Y))
	}
	z.ClosePath()
}

func polar(c geometry.Point, r, a float64) geometry.Point {
	return geometry.Point{X: c.X + r*math.Cos(a), Y: c.Y + r*math.Sin(a)}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
