package model

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Anchor is the corner or centre of the frame the overlay is placed relative to.
type Anchor string

// Supported overlay anchors.
const (
	AnchorTopLeft     Anchor = "top-left"
	AnchorTopRight    Anchor = "top-right"
	AnchorBottomLeft  Anchor = "bottom-left"
	AnchorBottomRight Anchor = "bottom-right"
	AnchorCenter      Anchor = "center"
)

// ValidAnchor reports whether a is one of the supported anchors.
func ValidAnchor(a Anchor) bool {
	switch a {
	case AnchorTopLeft, AnchorTopRight, AnchorBottomLeft, AnchorBottomRight, AnchorCenter:
		return true
	}
	return false
}

// RGBA is a straight-alpha colour with components in 0.0-1.0.
type RGBA struct {
	R float64 `json:"r" yaml:"r"`
	G float64 `json:"g" yaml:"g"`
	B float64 `json:"b" yaml:"b"`
	A float64 `json:"a" yaml:"a"`
}

// NRGBA converts the colour to an 8-bit non-premultiplied colour.
func (c RGBA) NRGBA() color.NRGBA {
	return color.NRGBA{
		R: unit8(c.R),
		G: unit8(c.G),
		B: unit8(c.B),
		A: unit8(c.A),
	}
}

func unit8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// ParseHexColor parses "#RRGGBB" or "#RRGGBBAA".
func ParseHexColor(s string) (RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return RGBA{}, fmt.Errorf("invalid colour %q: want #RRGGBB or #RRGGBBAA", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGBA{}, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	if len(s) == 6 {
		v = v<<8 | 0xff
	}
	return RGBA{
		R: float64(v>>24&0xff) / 255,
		G: float64(v>>16&0xff) / 255,
		B: float64(v>>8&0xff) / 255,
		A: float64(v&0xff) / 255,
	}, nil
}

// OverlayConfig describes what the overlay shows and how it looks.
// It is replaced as a whole; readers always see one consistent value.
type OverlayConfig struct {
	FontFamily string  `json:"font_family"`
	FontSize   int     `json:"font_size"`
	Color      RGBA    `json:"color"`
	Opacity    float64 `json:"opacity"`
	Anchor     Anchor  `json:"anchor"`
	OffsetX    int     `json:"offset_x"`
	OffsetY    int     `json:"offset_y"`

	ShowFPS   bool `json:"show_fps"`
	ShowCPU   bool `json:"show_cpu"`
	ShowGPU   bool `json:"show_gpu"`
	ShowRAM   bool `json:"show_ram"`
	ShowTemps bool `json:"show_temps"`
}

// DefaultOverlayConfig returns the out-of-the-box overlay configuration.
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		FontFamily: "Segoe UI",
		FontSize:   14,
		Color:      RGBA{R: 0, G: 1, B: 0.5, A: 1},
		Opacity:    0.8,
		Anchor:     AnchorTopLeft,
		OffsetX:    10,
		OffsetY:    10,
		ShowFPS:    true,
		ShowCPU:    true,
		ShowGPU:    true,
		ShowRAM:    true,
		ShowTemps:  true,
	}
}

// Font size limits in points.
const (
	MinFontSize = 8
	MaxFontSize = 72
)

// ClampFontSize limits size to MinFontSize-MaxFontSize.
func ClampFontSize(size int) int {
	return min(max(size, MinFontSize), MaxFontSize)
}

// ClampOpacity limits v to the 0.0-1.0 range. NaN becomes 0.
func ClampOpacity(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
