package monitor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/ramboxcrty/GameRMCR/internal/metrics"
	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// DefaultPollInterval matches the overlay's hardware refresh rate.
const DefaultPollInterval = 500 * time.Millisecond

// Poller samples a Source on a fixed interval and publishes into a metrics channel.
type Poller struct {
	source   Source
	channel  *metrics.Channel
	clock    clockz.Clock
	interval time.Duration
	logger   *slog.Logger

	samples  atomic.Uint64
	failures atomic.Uint64
}

// NewPoller creates a poller. A zero interval uses DefaultPollInterval.
func NewPoller(source Source, ch *metrics.Channel, clock clockz.Clock, interval time.Duration, logger *slog.Logger) *Poller {
	if clock == nil {
		clock = clockz.RealClock
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:   source,
		channel:  ch,
		clock:    clock,
		interval: interval,
		logger:   logger.With("component", "monitor", "source", source.Name()),
	}
}

// Run polls until ctx is done. The first sample is taken immediately.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.PollOnce(ctx)
		}
	}
}

// PollOnce takes one sample and publishes it.
func (p *Poller) PollOnce(ctx context.Context) {
	m, err := p.source.Sample(ctx)
	if err != nil {
		// Log the first failure and then every hundredth to keep the log quiet
		// on hosts without any readable counters.
		if n := p.failures.Add(1); n == 1 || n%100 == 0 {
			p.logger.Warn("hardware sample failed", "failures", n, "err", err)
		}
		return
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = p.clock.Now()
	}
	p.channel.Publish(m)
	p.samples.Add(1)
}

// Samples returns how many snapshots were published.
func (p *Poller) Samples() uint64 { return p.samples.Load() }

// Failures returns how many samples failed.
func (p *Poller) Failures() uint64 { return p.failures.Load() }

// Latest is a convenience for readers that only hold the poller.
func (p *Poller) Latest() (model.HardwareMetrics, bool) {
	return p.channel.ReadLatest()
}
