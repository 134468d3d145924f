package overlay

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

type fakeBackend struct {
	initErr    error
	composeErr error
	panicOn    string

	inits    int
	composes int
	released int
}

func (f *fakeBackend) Init() error {
	f.inits++
	return f.initErr
}

func (f *fakeBackend) Compose(text string, _ Style) (*image.NRGBA, error) {
	f.composes++
	if f.panicOn != "" && text == f.panicOn {
		panic("device removed")
	}
	if f.composeErr != nil {
		return nil, f.composeErr
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img, nil
}

func (f *fakeBackend) Release() {
	f.released++
}

func newTestCompositor(t *testing.T, b Backend) *Compositor {
	t.Helper()
	c := NewCompositor(NewSettings(model.DefaultOverlayConfig()), b, nil)
	require.NoError(t, c.Init())
	return c
}

func TestCompositor_RenderNoopWhenHiddenOrUninitialised(t *testing.T) {
	b := &fakeBackend{}
	c := NewCompositor(NewSettings(model.DefaultOverlayConfig()), b, nil)

	require.NoError(t, c.Render(sampleMetrics()))
	assert.Zero(t, b.composes, "not initialised")

	require.NoError(t, c.Init())
	c.Settings().SetVisible(false)
	require.NoError(t, c.Render(sampleMetrics()))
	assert.Zero(t, b.composes, "hidden")

	c.Settings().SetVisible(true)
	require.NoError(t, c.Render(sampleMetrics()))
	assert.Equal(t, 1, b.composes)
	assert.Equal(t, RenderedText(model.DefaultOverlayConfig(), sampleMetrics()), c.Text())
}

func TestCompositor_SkipsComposeWhenTextUnchanged(t *testing.T) {
	b := &fakeBackend{}
	c := newTestCompositor(t, b)

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Render(sampleMetrics()))
	}
	assert.Equal(t, 1, b.composes)

	m := sampleMetrics()
	m.FPS = 30
	require.NoError(t, c.Render(m))
	assert.Equal(t, 2, b.composes)
}

func TestCompositor_ComposeFailureDisablesForSession(t *testing.T) {
	b := &fakeBackend{composeErr: errors.New("device lost")}
	c := newTestCompositor(t, b)

	err := c.Render(sampleMetrics())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRenderFault)
	assert.True(t, c.Disabled())
	assert.ErrorIs(t, c.Fault(), ErrRenderFault)

	b.composeErr = nil
	require.NoError(t, c.Render(sampleMetrics()), "disabled overlay is a quiet no-op")
	assert.Equal(t, 1, b.composes)

	assert.ErrorIs(t, c.Init(), ErrRenderFault, "cannot be re-initialised")
}

func TestCompositor_InitFailure(t *testing.T) {
	b := &fakeBackend{initErr: errors.New("shader compile failed")}
	c := NewCompositor(NewSettings(model.DefaultOverlayConfig()), b, nil)

	assert.ErrorIs(t, c.Init(), ErrRenderFault)
	assert.False(t, c.Initialized())
	assert.True(t, c.Disabled())
}

func TestCompositor_PanicIsContained(t *testing.T) {
	cfg := model.DefaultOverlayConfig()
	cfg.ShowCPU, cfg.ShowGPU, cfg.ShowRAM = false, false, false
	b := &fakeBackend{panicOn: "FPS: 60.0\n"}
	c := NewCompositor(NewSettings(cfg), b, nil)
	require.NoError(t, c.Init())

	var err error
	assert.NotPanics(t, func() {
		err = c.Render(model.OverlayMetrics{FPS: 59.97})
	})
	assert.ErrorIs(t, err, ErrRenderFault)
	assert.True(t, c.Disabled())
}

func TestCompositor_RedrawHonoursPositionAndOpacity(t *testing.T) {
	b := &fakeBackend{}
	c := newTestCompositor(t, b)
	c.Settings().SetPosition(2, 3)
	c.Settings().SetOpacity(1)
	require.NoError(t, c.Render(sampleMetrics()))

	dst := image.NewRGBA(image.Rect(0, 0, 16, 16))
	require.NoError(t, c.Redraw(dst))

	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, dst.RGBAAt(2, 3))
	assert.Equal(t, color.RGBA{R: 255, G: 255, B: 255, A: 255}, dst.RGBAAt(5, 4))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(1, 3))
	assert.Equal(t, color.RGBA{}, dst.RGBAAt(6, 3))

	c.Settings().SetAnchor(model.AnchorBottomRight)
	c.Settings().SetPosition(0, 0)
	c.Settings().SetOpacity(0)
	clean := image.NewRGBA(image.Rect(0, 0, 16, 16))
	require.NoError(t, c.Redraw(clean))
	assert.Equal(t, color.RGBA{}, clean.RGBAAt(15, 15), "fully transparent")
}

func TestCompositor_ReleaseKeepsSettings(t *testing.T) {
	b := &fakeBackend{}
	c := newTestCompositor(t, b)
	c.Settings().SetOpacity(0.4)

	c.Release()
	c.Release()
	assert.Equal(t, 1, b.released)
	assert.False(t, c.Initialized())
	assert.InDelta(t, 0.4, c.Settings().Config().Opacity, 1e-9)
}

func TestSettings_SettersAreIndependent(t *testing.T) {
	s := NewSettings(model.DefaultOverlayConfig())

	s.SetVisible(false)
	s.SetPosition(100, 200)
	s.SetOpacity(1.7)

	cfg := s.Config()
	assert.Equal(t, 100, cfg.OffsetX)
	assert.Equal(t, 200, cfg.OffsetY)
	assert.Equal(t, 1.0, cfg.Opacity, "clamped")
	assert.Equal(t, "Segoe UI", cfg.FontFamily)

	next := model.DefaultOverlayConfig()
	next.Anchor = "nowhere"
	s.SetConfig(next)
	assert.False(t, s.Visible(), "config reload does not change visibility")
	assert.Equal(t, model.AnchorTopLeft, s.Config().Anchor)
}

func TestSettings_ConcurrentSettersDoNotLoseUpdates(t *testing.T) {
	s := NewSettings(model.DefaultOverlayConfig())
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.SetPosition(i, i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.SetOpacity(0.25)
		}
	}()
	wg.Wait()

	cfg := s.Config()
	assert.Equal(t, 499, cfg.OffsetX)
	assert.Equal(t, cfg.OffsetX, cfg.OffsetY)
	assert.Equal(t, 0.25, cfg.Opacity)
}

func TestPlacement(t *testing.T) {
	bounds := image.Rect(0, 0, 100, 50)
	size := image.Pt(20, 10)

	tests := []struct {
		anchor model.Anchor
		want   image.Point
	}{
		{model.AnchorTopLeft, image.Pt(5, 5)},
		{model.AnchorTopRight, image.Pt(75, 5)},
		{model.AnchorBottomLeft, image.Pt(5, 35)},
		{model.AnchorBottomRight, image.Pt(75, 35)},
		{model.AnchorCenter, image.Pt(45, 25)},
	}
	for _, tt := range tests {
		t.Run(string(tt.anchor), func(t *testing.T) {
			assert.Equal(t, tt.want, Placement(bounds, size, tt.anchor, 5, 5))
		})
	}
}

func TestRasterBackend_DrawsText(t *testing.T) {
	r := NewRasterBackend()
	require.NoError(t, r.Init())

	style := Style{FontSize: 14, Color: color.NRGBA{G: 255, A: 255}}
	small, err := r.Compose("FPS: 60.0\nCPU: 12.0%\n", style)
	require.NoError(t, err)
	assert.Equal(t, 2*13+2*rasterPadding, small.Bounds().Dy(), "two lines")

	lit := 0
	for i := 1; i < len(small.Pix); i += 4 {
		if small.Pix[i] > 0 {
			lit++
		}
	}
	assert.Positive(t, lit, "glyph pixels drawn")

	style.FontSize = 26
	big, err := r.Compose("FPS: 60.0\nCPU: 12.0%\n", style)
	require.NoError(t, err)
	assert.Equal(t, small.Bounds().Dx()*2, big.Bounds().Dx())

	r.Release()
	_, err = r.Compose("x", style)
	assert.Error(t, err)
}

func TestSettings_FontSizeIsClamped(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, model.MinFontSize},
		{-4, model.MinFontSize},
		{14, 14},
		{72, 72},
		{2600, model.MaxFontSize},
	}
	for _, tt := range tests {
		cfg := model.DefaultOverlayConfig()
		cfg.FontSize = tt.in
		s := NewSettings(cfg)
		assert.Equal(t, tt.want, s.Config().FontSize, "font size %d", tt.in)
	}
}

func TestCompositor_HugeFontSizeStaysBounded(t *testing.T) {
	cfg := model.DefaultOverlayConfig()
	cfg.FontSize = 2600
	c := NewCompositor(NewSettings(cfg), NewRasterBackend(), nil)
	require.NoError(t, c.Init())

	require.NoError(t, c.Render(model.OverlayMetrics{FPS: 60}))
	require.NotNil(t, c.layer)
	assert.LessOrEqual(t, c.layer.Bounds().Dx(), MaxLayerWidth)
	assert.LessOrEqual(t, c.layer.Bounds().Dy(), MaxLayerHeight)
}

func TestRasterBackend_RejectsOversizedLayer(t *testing.T) {
	r := NewRasterBackend()
	require.NoError(t, r.Init())

	_, err := r.Compose("FPS: 60.0\nCPU: 12.0%\n", Style{FontSize: 2600})
	assert.Error(t, err)

	c := NewCompositor(NewSettings(model.DefaultOverlayConfig()), oversizedBackend{r}, nil)
	require.NoError(t, c.Init())
	err = c.Render(model.OverlayMetrics{FPS: 60})
	assert.ErrorIs(t, err, ErrRenderFault)
	assert.True(t, c.Disabled())
}

// oversizedBackend forces every compose past the layer limit.
type oversizedBackend struct {
	*RasterBackend
}

func (b oversizedBackend) Compose(text string, style Style) (*image.NRGBA, error) {
	style.FontSize = 2600
	return b.RasterBackend.Compose(text, style)
}
