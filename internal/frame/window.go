package frame

import (
	"math"
	"sort"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

const (
	// DefaultCapacity is the number of frames kept for percentile statistics.
	DefaultCapacity = 1000

	// fpsIntervalMs is how much frame time is accumulated before the
	// displayed FPS is refreshed.
	fpsIntervalMs = 500.0

	// tailAverageMin is the window length from which low-percentile figures
	// average the slow tail instead of reading a single order statistic.
	tailAverageMin = 100

	// dropFactor marks a frame as dropped when it is this many times the mean.
	dropFactor = 2.0
)

// Window is a fixed-capacity FIFO of frame times in milliseconds.
//
// All derived values are computed from the current contents on demand.
// Not safe for concurrent use; other goroutines read Stats copies.
type Window struct {
	buf  []float64
	head int // oldest sample
	n    int

	last  float64
	total uint64

	accFrames  int
	accElapsed float64
	fps        float64
	fpsReady   bool
}

// NewWindow creates a window holding at most capacity samples.
// A non-positive capacity selects DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]float64, capacity)}
}

// Capacity returns the maximum number of samples held.
func (w *Window) Capacity() int {
	return len(w.buf)
}

// Len returns the number of samples currently held.
func (w *Window) Len() int {
	return w.n
}

// AddFrame appends a frame time, evicting the oldest sample when full.
// Non-positive and non-finite values are ignored; the return value reports
// whether the sample was stored.
func (w *Window) AddFrame(ms float64) bool {
	if !(ms > 0) || math.IsInf(ms, 0) {
		return false
	}

	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = ms
		w.n++
	} else {
		w.buf[w.head] = ms
		w.head = (w.head + 1) % len(w.buf)
	}
	w.last = ms
	w.total++

	w.accFrames++
	w.accElapsed += ms
	if w.accElapsed >= fpsIntervalMs {
		w.fps = float64(w.accFrames) * 1000 / w.accElapsed
		w.fpsReady = true
		w.accFrames = 0
		w.accElapsed = 0
	}
	return true
}

// Samples returns a copy of the window, oldest first.
func (w *Window) Samples() []float64 {
	out := make([]float64, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// LastFrameTime returns the most recently accepted frame time.
func (w *Window) LastFrameTime() float64 {
	if w.n == 0 {
		return 0
	}
	return w.last
}

// CurrentFPS returns the display frame rate, refreshed every 500 ms of
// accumulated frame time. Until the first interval completes it falls back
// to the reciprocal of the window mean.
func (w *Window) CurrentFPS() float64 {
	if w.n == 0 {
		return 0
	}
	if w.fpsReady {
		return w.fps
	}
	return toFPS(w.FrameTimeAverage())
}

// FrameTimeAverage returns the mean frame time of the window.
func (w *Window) FrameTimeAverage() float64 {
	if w.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.n; i++ {
		sum += w.buf[(w.head+i)%len(w.buf)]
	}
	return sum / float64(w.n)
}

// AverageFPS returns the mean of the per-frame instantaneous frame rates.
func (w *Window) AverageFPS() float64 {
	if w.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.n; i++ {
		sum += 1000 / w.buf[(w.head+i)%len(w.buf)]
	}
	return sum / float64(w.n)
}

// PercentileLowFPS returns the frame rate of the slowest p percent of frames.
//
// With at least 100 samples the slowest ceil(p% * n) frame times are averaged;
// shorter windows use the single sample at that boundary.
func (w *Window) PercentileLowFPS(p float64) float64 {
	if w.n == 0 {
		return 0
	}
	return percentileLow(w.sorted(), p)
}

// Low1 returns the 1% low frame rate.
func (w *Window) Low1() float64 {
	return w.PercentileLowFPS(1.0)
}

// Low01 returns the 0.1% low frame rate.
func (w *Window) Low01() float64 {
	return w.PercentileLowFPS(0.1)
}

// MinFPS returns the frame rate of the longest frame in the window.
func (w *Window) MinFPS() float64 {
	if w.n == 0 {
		return 0
	}
	longest := 0.0
	for i := 0; i < w.n; i++ {
		longest = math.Max(longest, w.buf[(w.head+i)%len(w.buf)])
	}
	return toFPS(longest)
}

// MaxFPS returns the frame rate of the shortest frame in the window.
func (w *Window) MaxFPS() float64 {
	if w.n == 0 {
		return 0
	}
	shortest := math.Inf(1)
	for i := 0; i < w.n; i++ {
		shortest = math.Min(shortest, w.buf[(w.head+i)%len(w.buf)])
	}
	return toFPS(shortest)
}

// Stats computes every derived figure with a single sort.
func (w *Window) Stats() model.FrameStats {
	stats := model.FrameStats{
		Samples:     w.n,
		TotalFrames: w.total,
	}
	if w.n == 0 {
		return stats
	}

	samples := w.Samples()
	var sum, fpsSum float64
	for _, ms := range samples {
		sum += ms
		fpsSum += 1000 / ms
	}
	avg := sum / float64(len(samples))
	for i, ms := range samples {
		if ms > avg*dropFactor {
			stats.FrameDrops = append(stats.FrameDrops, i)
		}
	}

	sorted := samples
	sort.Float64s(sorted)

	stats.FPS = w.CurrentFPS()
	stats.FrameTimeMs = w.last
	stats.AvgFrameTimeMs = avg
	stats.AvgFPS = fpsSum / float64(len(sorted))
	stats.MinFPS = toFPS(sorted[len(sorted)-1])
	stats.MaxFPS = toFPS(sorted[0])
	stats.Low1 = percentileLow(sorted, 1.0)
	stats.Low01 = percentileLow(sorted, 0.1)
	return stats
}

// Reset clears the window and the FPS accumulator.
func (w *Window) Reset() {
	w.head, w.n = 0, 0
	w.last = 0
	w.total = 0
	w.accFrames, w.accElapsed = 0, 0
	w.fps, w.fpsReady = 0, false
}

func (w *Window) sorted() []float64 {
	s := w.Samples()
	sort.Float64s(s)
	return s
}

// percentileLow expects frame times sorted ascending.
func percentileLow(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 || !(p > 0) {
		return 0
	}
	if p > 100 {
		p = 100
	}
	// The epsilon keeps exact products such as 1% of 1000 from rounding up to 11.
	k := int(math.Ceil(p/100*float64(n) - 1e-9))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}

	if n < tailAverageMin {
		return toFPS(sorted[n-k])
	}
	var sum float64
	for _, ms := range sorted[n-k:] {
		sum += ms
	}
	return toFPS(sum / float64(k))
}

func toFPS(ms float64) float64 {
	if !(ms > 0) {
		return 0
	}
	return 1000 / ms
}
