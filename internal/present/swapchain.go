package present

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"golang.org/x/image/draw"
)

// SwapChain is an in-process presentation pipeline with a patchable entry
// point slot. Present always calls whatever function currently sits in the
// slot, the way a host calls through its swap chain vtable.
type SwapChain struct {
	api   API
	clear color.RGBA

	slot   atomic.Pointer[Func]
	native Func

	// mu serialises Install and Restore.
	mu            sync.Mutex
	installed     bool
	installErrors []error

	back      *image.RGBA
	index     uint64
	presented atomic.Uint64

	frontMu sync.Mutex
	front   *image.RGBA
}

// NewSwapChain creates a swap chain with a width x height back buffer.
func NewSwapChain(api API, width, height int) *SwapChain {
	s := &SwapChain{
		api:   api,
		clear: color.RGBA{R: 16, G: 16, B: 24, A: 255},
		back:  image.NewRGBA(image.Rect(0, 0, width, height)),
		front: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	s.native = s.flip
	s.slot.Store(&s.native)
	return s
}

// API reports the pipeline this swap chain pretends to be.
func (s *SwapChain) API() API {
	return s.api
}

// Install swaps detour into the entry point slot.
func (s *SwapChain) Install(detour Func) (Func, error) {
	if detour == nil {
		return nil, ErrEntryPointNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.installErrors) > 0 {
		err := s.installErrors[0]
		s.installErrors = s.installErrors[1:]
		return nil, err
	}

	current := s.slot.Load()
	if current == nil || *current == nil {
		return nil, ErrEntryPointNotFound
	}
	s.slot.Store(&detour)
	s.installed = true
	return *current, nil
}

// Restore puts original back into the entry point slot.
func (s *SwapChain) Restore(original Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.installed {
		return ErrNotInstalled
	}
	if original == nil {
		original = s.native
	}
	s.slot.Store(&original)
	s.installed = false
	return nil
}

// Hooked reports whether a detour currently occupies the slot.
func (s *SwapChain) Hooked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.installed
}

// FailNextInstalls queues errors returned by the next Install calls, in order.
func (s *SwapChain) FailNextInstalls(errs ...error) {
	s.mu.Lock()
	s.installErrors = append(s.installErrors, errs...)
	s.mu.Unlock()
}

// Present clears the back buffer and calls the current entry point.
// It must be called from a single render goroutine.
func (s *SwapChain) Present() error {
	draw.Draw(s.back, s.back.Bounds(), image.NewUniform(s.clear), image.Point{}, draw.Src)
	s.index++
	f := &Frame{Image: s.back, Index: s.index, SyncInterval: 1}
	return (*s.slot.Load())(f)
}

// Presented returns how many frames reached the native entry point.
func (s *SwapChain) Presented() uint64 {
	return s.presented.Load()
}

// Snapshot returns a copy of the last displayed frame.
func (s *SwapChain) Snapshot() *image.RGBA {
	s.frontMu.Lock()
	defer s.frontMu.Unlock()

	img := image.NewRGBA(s.front.Bounds())
	copy(img.Pix, s.front.Pix)
	return img
}

func (s *SwapChain) flip(f *Frame) error {
	s.frontMu.Lock()
	draw.Draw(s.front, s.front.Bounds(), f.Image, f.Image.Bounds().Min, draw.Src)
	s.frontMu.Unlock()
	s.presented.Add(1)
	return nil
}
