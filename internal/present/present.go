// Package present models the presentation entry point a host application calls
// once per displayed frame, and the swappable slot a hook is installed into.
package present

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// API identifies a presentation pipeline.
type API int

// Known presentation APIs.
const (
	APIUnknown API = iota
	APIDX9
	APIDX11
	APIDX12
	APIVulkan
	APIOpenGL
	APISoftware
)

var apiNames = map[API]string{
	APIUnknown:  "unknown",
	APIDX9:      "DX9",
	APIDX11:     "DX11",
	APIDX12:     "DX12",
	APIVulkan:   "Vulkan",
	APIOpenGL:   "OpenGL",
	APISoftware: "Software",
}

func (a API) String() string {
	if s, ok := apiNames[a]; ok {
		return s
	}
	return fmt.Sprintf("API(%d)", int(a))
}

// ParseAPI maps a case-insensitive name such as "dx11" or "vulkan" to an API.
func ParseAPI(s string) (API, error) {
	for a, name := range apiNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return a, nil
		}
	}
	return APIUnknown, fmt.Errorf("unknown presentation API %q", s)
}

// Supported reports whether the overlay can hook this API.
func Supported(a API) bool {
	return a == APIDX11 || a == APISoftware
}

// Frame is the back buffer handed to a presentation call.
type Frame struct {
	// Image is the back buffer about to be displayed. Overlays draw into it.
	Image *image.RGBA

	// Index counts presentation calls on the owning swap chain, starting at 1.
	Index uint64

	SyncInterval uint32
	Flags        uint32
}

// Func is a presentation entry point.
type Func func(*Frame) error

// Target is an installable presentation entry point.
type Target interface {
	// API reports which pipeline the entry point belongs to.
	API() API

	// Install redirects the entry point to detour and returns the previous
	// entry point, which the detour must keep calling.
	Install(detour Func) (original Func, err error)

	// Restore puts original back into the entry point slot.
	Restore(original Func) error
}

var (
	// ErrEntryPointNotFound means the presentation symbol could not be located.
	ErrEntryPointNotFound = errors.New("present: entry point not found")

	// ErrProtectionDenied means the entry point slot could not be made writable.
	ErrProtectionDenied = errors.New("present: memory protection denied")

	// ErrNotInstalled is returned by Restore when no detour is installed.
	ErrNotInstalled = errors.New("present: no detour installed")

	// ErrUnsupported is matched by every UnsupportedError.
	ErrUnsupported = errors.New("present: unsupported API")
)

// UnsupportedError reports a target whose API cannot be hooked.
type UnsupportedError struct {
	API API
}

func (e *UnsupportedError) Error() string {
	return "Unsupported: " + e.API.String()
}

// Is makes errors.Is(err, ErrUnsupported) match.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}
