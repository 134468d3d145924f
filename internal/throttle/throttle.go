// Package throttle protects the host frame rate from the overlay's own cost.
package throttle

import (
	"math"
	"sync/atomic"
)

// Default tuning.
const (
	DefaultDegradeRatio    = 0.90
	DefaultRecoverRatio    = 0.95
	DefaultDegradeWindow   = 60
	DefaultRecoverWindow   = 180
	DefaultMaxDivisor      = 8
	DefaultBaselineSamples = 120
)

// Config tunes the throttle. Zero fields take the defaults above.
type Config struct {
	// DegradeRatio is the fraction of baseline FPS below which a tick counts as degraded.
	DegradeRatio float64

	// RecoverRatio is the fraction of baseline FPS at or above which a tick counts as healthy.
	// It must be above DegradeRatio; the gap is the hysteresis band.
	RecoverRatio float64

	// DegradeWindow is the number of consecutive degraded ticks that halve the cadence.
	DegradeWindow int

	// RecoverWindow is the number of consecutive healthy ticks that double it back.
	RecoverWindow int

	// MaxDivisor is the floor of the update cadence (1/MaxDivisor of frames).
	MaxDivisor int

	// BaselineSamples is how many observations form the pre-overlay baseline.
	BaselineSamples int
}

func (c Config) withDefaults() Config {
	if c.DegradeRatio <= 0 {
		c.DegradeRatio = DefaultDegradeRatio
	}
	if c.RecoverRatio <= c.DegradeRatio {
		c.RecoverRatio = math.Max(DefaultRecoverRatio, c.DegradeRatio)
	}
	if c.DegradeWindow <= 0 {
		c.DegradeWindow = DefaultDegradeWindow
	}
	if c.RecoverWindow <= 0 {
		c.RecoverWindow = DefaultRecoverWindow
	}
	if c.MaxDivisor < 1 {
		c.MaxDivisor = DefaultMaxDivisor
	}
	if c.BaselineSamples <= 0 {
		c.BaselineSamples = DefaultBaselineSamples
	}
	return c
}

// Throttle decides how often the overlay recomputes and redraws.
//
// Observe and ShouldUpdate are called from the render thread only. Divisor,
// Baseline and SetBaseline may be called from any goroutine.
type Throttle struct {
	cfg Config

	baseline atomic.Uint64 // float64 bits; 0 = not captured
	divisor  atomic.Int32
	changes  atomic.Uint64

	baselineSum float64
	baselineN   int
	degradedRun int
	healthyRun  int
	tick        uint64
}

// New creates a throttle with full cadence.
func New(cfg Config) *Throttle {
	t := &Throttle{cfg: cfg.withDefaults()}
	t.divisor.Store(1)
	return t
}

// Config returns the effective configuration.
func (t *Throttle) Config() Config {
	return t.cfg
}

// SetBaseline fixes the pre-overlay reference frame rate explicitly.
func (t *Throttle) SetBaseline(fps float64) {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return
	}
	t.baseline.Store(math.Float64bits(fps))
}

// Baseline returns the captured reference frame rate, or 0.
func (t *Throttle) Baseline() float64 {
	return math.Float64frombits(t.baseline.Load())
}

// BaselineReady reports whether a baseline has been captured.
func (t *Throttle) BaselineReady() bool {
	return t.baseline.Load() != 0
}

// Divisor returns the current cadence divisor: the overlay updates on one tick in Divisor.
func (t *Throttle) Divisor() int {
	return int(t.divisor.Load())
}

// Changes returns how many times the divisor has changed.
func (t *Throttle) Changes() uint64 {
	return t.changes.Load()
}

// Observe feeds the frame rate measured on this tick.
// Until a baseline exists, observations build the baseline instead.
func (t *Throttle) Observe(fps float64) {
	if !(fps > 0) || math.IsInf(fps, 0) {
		return
	}

	if !t.BaselineReady() {
		t.baselineSum += fps
		t.baselineN++
		if t.baselineN >= t.cfg.BaselineSamples {
			t.SetBaseline(t.baselineSum / float64(t.baselineN))
		}
		return
	}

	baseline := t.Baseline()
	switch {
	case fps < baseline*t.cfg.DegradeRatio:
		t.healthyRun = 0
		t.degradedRun++
		if t.degradedRun >= t.cfg.DegradeWindow {
			t.degradedRun = 0
			t.setDivisor(min(t.Divisor()*2, t.cfg.MaxDivisor))
		}
	case fps >= baseline*t.cfg.RecoverRatio:
		t.degradedRun = 0
		t.healthyRun++
		if t.healthyRun >= t.cfg.RecoverWindow {
			t.healthyRun = 0
			t.setDivisor(max(t.Divisor()/2, 1))
		}
	default:
		// Inside the hysteresis band: neither trend continues.
		t.degradedRun = 0
		t.healthyRun = 0
	}
}

// ShouldUpdate advances the tick counter and reports whether this tick
// should recompute the overlay.
func (t *Throttle) ShouldUpdate() bool {
	d := uint64(t.Divisor())
	due := t.tick%d == 0
	t.tick++
	return due
}

// Reset drops the baseline and restores full cadence.
func (t *Throttle) Reset() {
	t.baseline.Store(0)
	t.setDivisor(1)
	t.baselineSum, t.baselineN = 0, 0
	t.degradedRun, t.healthyRun = 0, 0
	t.tick = 0
}

func (t *Throttle) setDivisor(d int) {
	if old := t.divisor.Swap(int32(d)); int(old) != d {
		t.changes.Add(1)
	}
}
