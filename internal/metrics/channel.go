// Package metrics hands hardware snapshots from the monitoring side to the render thread.
package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// Channel holds the most recently published hardware snapshot.
//
// Readers never block: ReadLatest is a single atomic load of an immutable
// value. Publishers serialise among themselves only, so a slow writer can
// never stall a frame.
type Channel struct {
	latest atomic.Pointer[model.HardwareMetrics]

	// writer-side state
	mu       sync.Mutex
	lastGood model.HardwareMetrics
	rejected atomic.Uint64
}

// NewChannel creates an empty channel.
func NewChannel() *Channel {
	return &Channel{lastGood: model.Unavailable()}
}

// Publish replaces the latest snapshot. Garbage fields are replaced by the
// last good value for that field, or model.NotAvailable when there is none.
// A field the source reports as model.NotAvailable reads as NotAvailable and
// forgets its last good value.
func (c *Channel) Publish(m model.HardwareMetrics) {
	c.mu.Lock()
	clean := c.sanitize(m)
	c.mu.Unlock()

	c.latest.Store(&clean)
}

// ReadLatest returns the latest snapshot. ok is false until the first Publish.
func (c *Channel) ReadLatest() (m model.HardwareMetrics, ok bool) {
	p := c.latest.Load()
	if p == nil {
		return model.Unavailable(), false
	}
	return *p, true
}

// Rejected returns how many individual field values were replaced during sanitising.
func (c *Channel) Rejected() uint64 {
	return c.rejected.Load()
}

// sanitize must be called with mu held.
func (c *Channel) sanitize(m model.HardwareMetrics) model.HardwareMetrics {
	out := m
	out.CPUUsage = c.pickFloat(m.CPUUsage, model.ValidPercent, &c.lastGood.CPUUsage)
	out.GPUUsage = c.pickFloat(m.GPUUsage, model.ValidPercent, &c.lastGood.GPUUsage)
	out.CPUTemp = c.pickFloat(m.CPUTemp, model.ValidTemp, &c.lastGood.CPUTemp)
	out.GPUTemp = c.pickFloat(m.GPUTemp, model.ValidTemp, &c.lastGood.GPUTemp)
	out.RAMUsedMB = c.pickInt(m.RAMUsedMB, &c.lastGood.RAMUsedMB)
	out.VRAMUsedMB = c.pickInt(m.VRAMUsedMB, &c.lastGood.VRAMUsedMB)
	return out
}

func (c *Channel) pickFloat(v float64, valid func(float64) bool, last *float64) float64 {
	if valid(v) || v == model.NotAvailable {
		*last = v
		return v
	}
	c.rejected.Add(1)
	return *last
}

func (c *Channel) pickInt(v int, last *int) int {
	if v >= 0 || v == model.NotAvailable {
		*last = v
		return v
	}
	c.rejected.Add(1)
	return *last
}
