// Package frame measures frame times and keeps the rolling statistics window.
package frame

import (
	"time"

	"github.com/zoobzio/clockz"
)

// Clock converts consecutive presentation events into frame times.
//
// Not safe for concurrent use: it belongs to the render thread that calls Tick.
type Clock struct {
	clock clockz.Clock
	last  time.Time
	valid bool
}

// NewClock creates a frame clock. A nil clock selects clockz.RealClock,
// whose readings carry Go's monotonic component.
func NewClock(clock clockz.Clock) *Clock {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &Clock{clock: clock}
}

// Tick records a presentation event and returns the time since the previous
// one in milliseconds. The first call after creation or Reset returns 0.
func (c *Clock) Tick() float64 {
	now := c.clock.Now()
	if !c.valid {
		c.last = now
		c.valid = true
		return 0
	}
	d := now.Sub(c.last)
	c.last = now
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// Reset forgets the previous timestamp.
func (c *Clock) Reset() {
	c.valid = false
	c.last = time.Time{}
}
