// Package hook installs the frame interceptor on a presentation entry point.
//
// A Hook is created per attach and discarded after detach; there is no
// process-wide hook instance. Every intercepted call measures the frame,
// updates the rolling statistics, lets the throttle decide whether the
// overlay is recomputed, draws the overlay and then always forwards to the
// original entry point.
package hook

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/clockz"

	"github.com/ramboxcrty/GameRMCR/internal/frame"
	"github.com/ramboxcrty/GameRMCR/internal/metrics"
	"github.com/ramboxcrty/GameRMCR/internal/model"
	"github.com/ramboxcrty/GameRMCR/internal/overlay"
	"github.com/ramboxcrty/GameRMCR/internal/present"
	"github.com/ramboxcrty/GameRMCR/internal/throttle"
)

// FaultReporter receives render-thread failures. Implementations must not block.
type FaultReporter interface {
	Fault(scope, process string, err error)
}

// Options configures a Hook.
type Options struct {
	// Process is the host the hook runs in.
	Process model.Process

	// Clock drives frame timing. Defaults to clockz.RealClock.
	Clock clockz.Clock

	// WindowCapacity is the rolling window size. Defaults to frame.DefaultCapacity.
	WindowCapacity int

	// Throttle tunes the adaptive overlay cadence.
	Throttle throttle.Config

	// Baseline, when positive, replaces the measured pre-overlay frame rate.
	Baseline float64

	// Metrics supplies hardware values for the overlay. Optional.
	Metrics *metrics.Channel

	// Overlay holds the shared overlay settings. Without it no overlay is drawn.
	Overlay *overlay.Settings

	// Backend rasterises the overlay. Defaults to overlay.NewRasterBackend().
	Backend overlay.Backend

	// Faults receives render-thread failures. Optional.
	Faults FaultReporter

	Logger *slog.Logger
}

// Hook is one installed frame interceptor.
type Hook struct {
	target  present.Target
	process model.Process
	faults  FaultReporter
	logger  *slog.Logger
	metrics *metrics.Channel

	// mu serialises Attach and Detach.
	mu       sync.Mutex
	original atomic.Pointer[present.Func]
	active   atomic.Bool
	inflight atomic.Int64

	// render thread only
	clock      *frame.Clock
	window     *frame.Window
	throttle   *throttle.Throttle
	compositor *overlay.Compositor

	// published copies for other goroutines
	stats      atomic.Pointer[model.FrameStats]
	fps        atomic.Uint64
	frameMs    atomic.Uint64
	calls      atomic.Uint64
	redraws    atomic.Uint64
	faultCount atomic.Uint64
}

// New creates a detached hook for target.
func New(target present.Target, opts Options) *Hook {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	h := &Hook{
		target:   target,
		process:  opts.Process,
		faults:   opts.Faults,
		metrics:  opts.Metrics,
		logger:   opts.Logger.With("component", "hook", "process", opts.Process.Name, "api", target.API().String()),
		clock:    frame.NewClock(opts.Clock),
		window:   frame.NewWindow(opts.WindowCapacity),
		throttle: throttle.New(opts.Throttle),
	}
	if opts.Baseline > 0 {
		h.throttle.SetBaseline(opts.Baseline)
	}
	if opts.Overlay != nil {
		backend := opts.Backend
		if backend == nil {
			backend = overlay.NewRasterBackend()
		}
		h.compositor = overlay.NewCompositor(opts.Overlay, backend, opts.Logger)
	}
	return h
}

// Attach installs the detour. The original entry point must be returned by
// the target and stays reachable for as long as the detour can run.
func (h *Hook) Attach(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active.Load() {
		return ErrAlreadyAttached
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	api := h.target.API()
	if !present.Supported(api) {
		return &present.UnsupportedError{API: api}
	}

	if h.compositor != nil {
		if err := h.compositor.Init(); err != nil {
			// Frame statistics stay available without the overlay.
			h.logger.Warn("overlay unavailable", "err", err)
		}
	}

	original, err := h.target.Install(h.detour)
	if err != nil {
		h.releaseOverlay()
		return fmt.Errorf("install %s detour: %w", api, err)
	}
	if original == nil {
		if rerr := h.target.Restore(nil); rerr != nil {
			h.logger.Error("failed to restore entry point after bad install", "err", rerr)
		}
		h.releaseOverlay()
		return ErrOriginalUnreachable
	}

	h.original.Store(&original)
	h.clock.Reset()
	h.active.Store(true)

	h.logger.Info("hook attached")
	return nil
}

// Detach removes the detour. The entry point is restored and in-flight
// calls are drained before any hook-owned resource is released.
func (h *Hook) Detach(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.active.Swap(false) {
		return ErrNotAttached
	}

	var restoreErr error
	if orig := h.original.Load(); orig != nil {
		restoreErr = h.target.Restore(*orig)
	}

	for h.inflight.Load() > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrDrainTimeout, err)
		}
		runtime.Gosched()
	}

	h.releaseOverlay()

	if restoreErr != nil {
		// The detour stays in place but only forwards from now on.
		h.logger.Error("failed to restore entry point", "err", restoreErr)
		return fmt.Errorf("restore %s entry point: %w", h.target.API(), restoreErr)
	}
	h.logger.Info("hook detached", "frames", h.calls.Load())
	return nil
}

// Attached reports whether the detour is active.
func (h *Hook) Attached() bool {
	return h.active.Load()
}

// Process returns the host process.
func (h *Hook) Process() model.Process {
	return h.process
}

// API returns the hooked presentation API.
func (h *Hook) API() present.API {
	return h.target.API()
}

// Stats returns the latest published window statistics.
func (h *Hook) Stats() model.FrameStats {
	if p := h.stats.Load(); p != nil {
		return *p
	}
	return model.FrameStats{}
}

// CurrentFPS returns the smoothed frame rate of the last frame.
func (h *Hook) CurrentFPS() float64 {
	return math.Float64frombits(h.fps.Load())
}

// CurrentFrameTimeMs returns the duration of the last frame.
func (h *Hook) CurrentFrameTimeMs() float64 {
	return math.Float64frombits(h.frameMs.Load())
}

// Divisor returns the overlay cadence divisor.
func (h *Hook) Divisor() int {
	return h.throttle.Divisor()
}

// Throttle exposes the adaptive throttle, for baseline overrides.
func (h *Hook) Throttle() *throttle.Throttle {
	return h.throttle
}

// Compositor returns the overlay compositor, or nil when no overlay is configured.
func (h *Hook) Compositor() *overlay.Compositor {
	return h.compositor
}

// Calls returns how many presentation calls went through the detour.
func (h *Hook) Calls() uint64 {
	return h.calls.Load()
}

// Redraws returns how many frames the overlay was blended into.
func (h *Hook) Redraws() uint64 {
	return h.redraws.Load()
}

// Faults returns how many frame handler panics were contained.
func (h *Hook) Faults() uint64 {
	return h.faultCount.Load()
}

// detour replaces the entry point. It never panics and always forwards.
func (h *Hook) detour(f *present.Frame) error {
	h.inflight.Add(1)
	defer h.inflight.Add(-1)

	h.calls.Add(1)
	if h.active.Load() {
		h.onFrame(f)
	}

	orig := h.original.Load()
	if orig == nil {
		return nil
	}
	return (*orig)(f)
}

func (h *Hook) onFrame(f *present.Frame) {
	defer func() {
		if r := recover(); r != nil {
			h.faultCount.Add(1)
			h.report("frame", fmt.Errorf("panic in frame handler: %v", r))
		}
	}()

	ms := h.clock.Tick()
	if !h.window.AddFrame(ms) {
		return
	}
	fps := h.window.CurrentFPS()
	h.frameMs.Store(math.Float64bits(ms))
	h.fps.Store(math.Float64bits(fps))
	h.throttle.Observe(fps)

	// Both the recompute and the blend follow the throttle cadence.
	if !h.throttle.ShouldUpdate() {
		return
	}
	stats := h.window.Stats()
	h.stats.Store(&stats)

	if h.compositor == nil || !h.throttle.BaselineReady() {
		return
	}
	if err := h.compositor.Render(h.overlayMetrics(stats)); err != nil {
		h.report("render", err)
	}
	if f != nil && f.Image != nil {
		h.redraws.Add(1)
		if err := h.compositor.Redraw(f.Image); err != nil {
			h.report("redraw", err)
		}
	}
}

func (h *Hook) overlayMetrics(s model.FrameStats) model.OverlayMetrics {
	m := model.OverlayMetrics{
		FPS:         s.FPS,
		FrameTimeMs: s.FrameTimeMs,
		Low1:        s.Low1,
		Low01:       s.Low01,
		Hardware:    model.Unavailable(),
	}
	if h.metrics != nil {
		m.Hardware, _ = h.metrics.ReadLatest()
	}
	return m
}

func (h *Hook) report(scope string, err error) {
	if h.faults != nil {
		h.faults.Fault(scope, h.process.Name, err)
	}
}

func (h *Hook) releaseOverlay() {
	if h.compositor != nil {
		h.compositor.Release()
	}
}
