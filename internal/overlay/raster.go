package overlay

import (
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	rasterPadding = 4
	baseGlyphSize = 13

	// Largest layer the backend will allocate on the render thread.
	MaxLayerWidth  = 2048
	MaxLayerHeight = 1024
)

// RasterBackend draws overlay text in software with the built-in 7x13 bitmap
// face, scaled by whole multiples to approximate the configured font size.
// FontFamily is ignored.
type RasterBackend struct {
	mu   sync.Mutex
	face font.Face
}

// NewRasterBackend creates an uninitialised software backend.
func NewRasterBackend() *RasterBackend {
	return &RasterBackend{}
}

// Init selects the font face.
func (r *RasterBackend) Init() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.face = basicfont.Face7x13
	return nil
}

// Compose draws text onto a new layer.
func (r *RasterBackend) Compose(text string, style Style) (*image.NRGBA, error) {
	r.mu.Lock()
	face := r.face
	r.mu.Unlock()
	if face == nil {
		return nil, errors.New("raster backend released")
	}

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	m := face.Metrics()
	lineHeight := m.Height.Ceil()

	width := 0
	for _, line := range lines {
		width = max(width, font.MeasureString(face, line).Ceil())
	}

	scale := scaleFor(style.FontSize)
	w, h := width+2*rasterPadding, len(lines)*lineHeight+2*rasterPadding
	if w*scale > MaxLayerWidth || h*scale > MaxLayerHeight {
		return nil, fmt.Errorf("layer %dx%d exceeds %dx%d", w*scale, h*scale, MaxLayerWidth, MaxLayerHeight)
	}

	base := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(base, base.Bounds(), image.NewUniform(style.Background), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  base,
		Src:  image.NewUniform(style.Color),
		Face: face,
	}
	for i, line := range lines {
		d.Dot = fixed.P(rasterPadding, rasterPadding+i*lineHeight+m.Ascent.Ceil())
		d.DrawString(line)
	}

	if scale == 1 {
		return base, nil
	}
	out := image.NewNRGBA(image.Rect(0, 0, base.Bounds().Dx()*scale, base.Bounds().Dy()*scale))
	draw.NearestNeighbor.Scale(out, out.Bounds(), base, base.Bounds(), draw.Src, nil)
	return out, nil
}

// Release drops the font face.
func (r *RasterBackend) Release() {
	r.mu.Lock()
	r.face = nil
	r.mu.Unlock()
}

func scaleFor(size int) int {
	s := (size + baseGlyphSize/2) / baseGlyphSize
	return max(s, 1)
}
