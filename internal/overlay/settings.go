package overlay

import (
	"sync/atomic"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// Settings is the overlay state shared by every compositor: configuration,
// visibility and the unsupported-API notice. All methods are safe for
// concurrent use and never block the render thread.
type Settings struct {
	cfg         atomic.Pointer[model.OverlayConfig]
	visible     atomic.Bool
	unsupported atomic.Pointer[string]
}

// NewSettings creates visible settings holding cfg.
func NewSettings(cfg model.OverlayConfig) *Settings {
	s := &Settings{}
	s.SetConfig(cfg)
	s.visible.Store(true)
	return s
}

// Config returns a consistent copy of the current configuration.
func (s *Settings) Config() model.OverlayConfig {
	return *s.cfg.Load()
}

// SetConfig replaces the whole configuration. Visibility is left untouched.
// Out-of-range values are clamped.
func (s *Settings) SetConfig(cfg model.OverlayConfig) {
	cfg.FontSize = model.ClampFontSize(cfg.FontSize)
	cfg.Opacity = model.ClampOpacity(cfg.Opacity)
	if !model.ValidAnchor(cfg.Anchor) {
		cfg.Anchor = model.AnchorTopLeft
	}
	s.cfg.Store(&cfg)
}

// SetVisible shows or hides the overlay.
func (s *Settings) SetVisible(v bool) {
	s.visible.Store(v)
}

// Visible reports whether the overlay is shown.
func (s *Settings) Visible() bool {
	return s.visible.Load()
}

// SetPosition moves the overlay to offset (x, y) from its anchor.
func (s *Settings) SetPosition(x, y int) {
	s.update(func(c *model.OverlayConfig) {
		c.OffsetX, c.OffsetY = x, y
	})
}

// SetAnchor changes the corner the overlay is placed relative to.
func (s *Settings) SetAnchor(a model.Anchor) {
	if !model.ValidAnchor(a) {
		return
	}
	s.update(func(c *model.OverlayConfig) {
		c.Anchor = a
	})
}

// SetOpacity sets the layer opacity, clamped to 0.0-1.0.
func (s *Settings) SetOpacity(v float64) {
	v = model.ClampOpacity(v)
	s.update(func(c *model.OverlayConfig) {
		c.Opacity = v
	})
}

// SetUnsupported replaces metrics with an "Unsupported: <api>" notice.
// An empty api clears the notice.
func (s *Settings) SetUnsupported(api string) {
	if api == "" {
		s.unsupported.Store(nil)
		return
	}
	s.unsupported.Store(&api)
}

// Unsupported returns the API named by the current notice, if any.
func (s *Settings) Unsupported() (string, bool) {
	p := s.unsupported.Load()
	if p == nil {
		return "", false
	}
	return *p, true
}

// GetRenderedText returns the text a compositor would draw for m right now.
func (s *Settings) GetRenderedText(m model.OverlayMetrics) string {
	if api, ok := s.Unsupported(); ok {
		return UnsupportedText(api)
	}
	return RenderedText(s.Config(), m)
}

// update applies fn to a private copy and publishes it, retrying if another
// setter won the race.
func (s *Settings) update(fn func(*model.OverlayConfig)) {
	for {
		old := s.cfg.Load()
		next := *old
		fn(&next)
		if s.cfg.CompareAndSwap(old, &next) {
			return
		}
	}
}
