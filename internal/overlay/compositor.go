package overlay

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync/atomic"

	"golang.org/x/image/draw"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// Style is what a backend needs to know to draw the text layer.
type Style struct {
	FontFamily string
	FontSize   int
	Color      color.NRGBA
	Background color.NRGBA
}

// Backend rasterises overlay text. Implementations own whatever graphics
// resources they need between Init and Release.
type Backend interface {
	Init() error
	Compose(text string, style Style) (*image.NRGBA, error)
	Release()
}

// Compositor draws the overlay into presented frames for one hook.
//
// Render and Redraw run on the render thread. Any backend error or panic
// disables the compositor for the rest of its life; it then does nothing.
type Compositor struct {
	settings *Settings
	backend  Backend
	logger   *slog.Logger

	initialized atomic.Bool
	disabled    atomic.Bool
	fault       atomic.Pointer[error]

	// render thread only
	layer *image.NRGBA
	text  string
	style Style
}

// NewCompositor creates a compositor drawing with backend.
func NewCompositor(settings *Settings, backend Backend, logger *slog.Logger) *Compositor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compositor{
		settings: settings,
		backend:  backend,
		logger:   logger.With("component", "overlay"),
	}
}

// Settings returns the shared settings this compositor reads.
func (c *Compositor) Settings() *Settings {
	return c.settings
}

// Init prepares the backend. It is a no-op when already initialised.
func (c *Compositor) Init() (err error) {
	if c.disabled.Load() {
		return c.Fault()
	}
	if c.initialized.Load() {
		return nil
	}
	defer c.recoverFault("init", &err)

	if err := c.backend.Init(); err != nil {
		return c.fail("init", err)
	}
	c.initialized.Store(true)
	return nil
}

// Render recomputes the overlay layer from m. It does nothing while the
// overlay is hidden, uninitialised or disabled.
func (c *Compositor) Render(m model.OverlayMetrics) (err error) {
	if !c.active() {
		return nil
	}
	defer c.recoverFault("render", &err)

	cfg := c.settings.Config()
	text := c.settings.GetRenderedText(m)
	style := styleFor(cfg)

	if text == "" {
		c.layer, c.text = nil, ""
		return nil
	}
	if c.layer != nil && text == c.text && style == c.style {
		return nil
	}

	layer, err := c.backend.Compose(text, style)
	if err != nil {
		return c.fail("compose", err)
	}
	c.layer, c.text, c.style = layer, text, style
	return nil
}

// Redraw blends the last composed layer into dst at the configured position
// and opacity.
func (c *Compositor) Redraw(dst draw.Image) (err error) {
	if !c.active() || c.layer == nil || dst == nil {
		return nil
	}
	defer c.recoverFault("redraw", &err)

	cfg := c.settings.Config()
	size := c.layer.Bounds().Size()
	at := Placement(dst.Bounds(), size, cfg.Anchor, cfg.OffsetX, cfg.OffsetY)
	mask := image.NewUniform(color.Alpha{A: uint8(cfg.Opacity*255 + 0.5)})

	draw.DrawMask(dst, image.Rectangle{Min: at, Max: at.Add(size)}, c.layer, c.layer.Bounds().Min, mask, image.Point{}, draw.Over)
	return nil
}

// Text returns the text of the last composed layer.
func (c *Compositor) Text() string {
	return c.text
}

// Release frees backend resources. Settings are kept.
func (c *Compositor) Release() {
	if !c.initialized.Swap(false) {
		return
	}
	c.layer, c.text = nil, ""
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("backend release panicked", "panic", r)
		}
	}()
	c.backend.Release()
}

// Initialized reports whether the backend is ready.
func (c *Compositor) Initialized() bool {
	return c.initialized.Load()
}

// Disabled reports whether a fault has switched the overlay off.
func (c *Compositor) Disabled() bool {
	return c.disabled.Load()
}

// Fault returns the error that disabled the compositor, or nil.
func (c *Compositor) Fault() error {
	if p := c.fault.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Compositor) active() bool {
	return c.initialized.Load() && !c.disabled.Load() && c.settings.Visible()
}

func (c *Compositor) fail(stage string, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrRenderFault, stage, cause)
	if c.disabled.CompareAndSwap(false, true) {
		c.fault.Store(&err)
		c.logger.Error("overlay disabled for session", "stage", stage, "err", cause)
	}
	c.layer = nil
	return err
}

func (c *Compositor) recoverFault(stage string, err *error) {
	if r := recover(); r != nil {
		*err = c.fail(stage, fmt.Errorf("panic: %v", r))
	}
}

func styleFor(cfg model.OverlayConfig) Style {
	return Style{
		FontFamily: cfg.FontFamily,
		FontSize:   cfg.FontSize,
		Color:      cfg.Color.NRGBA(),
		Background: color.NRGBA{A: 96},
	}
}

// Placement returns the top-left corner for a layer of the given size
// inside bounds.
func Placement(bounds image.Rectangle, size image.Point, anchor model.Anchor, offX, offY int) image.Point {
	switch anchor {
	case model.AnchorTopRight:
		return image.Pt(bounds.Max.X-size.X-offX, bounds.Min.Y+offY)
	case model.AnchorBottomLeft:
		return image.Pt(bounds.Min.X+offX, bounds.Max.Y-size.Y-offY)
	case model.AnchorBottomRight:
		return image.Pt(bounds.Max.X-size.X-offX, bounds.Max.Y-size.Y-offY)
	case model.AnchorCenter:
		return image.Pt(
			bounds.Min.X+(bounds.Dx()-size.X)/2+offX,
			bounds.Min.Y+(bounds.Dy()-size.Y)/2+offY,
		)
	default:
		return image.Pt(bounds.Min.X+offX, bounds.Min.Y+offY)
	}
}
