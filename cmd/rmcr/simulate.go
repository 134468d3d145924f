package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/ramboxcrty/GameRMCR/internal/engine"
	"github.com/ramboxcrty/GameRMCR/internal/model"
	"github.com/ramboxcrty/GameRMCR/internal/present"
)

const (
	simProcess    = "rmcr-sim.exe"
	simWidth      = 1280
	simHeight     = 720
	simStatsEvery = 5 * time.Second
)

// simulator drives a software swap chain at a target frame rate, with the
// occasional hitch, so the whole attach and overlay path can be watched
// without a real game.
type simulator struct {
	engine   *engine.Engine
	registry *engine.Registry
	chain    *present.SwapChain
	fps      int
	logger   *slog.Logger
	wg       sync.WaitGroup
}

func newSimulator(eng *engine.Engine, reg *engine.Registry, fps int, logger *slog.Logger) *simulator {
	if fps <= 0 {
		fps = 144
	}
	return &simulator{
		engine:   eng,
		registry: reg,
		chain:    present.NewSwapChain(present.APISoftware, simWidth, simHeight),
		fps:      fps,
		logger:   logger.With("component", "simulator"),
	}
}

// Start registers the swap chain, attaches through the supervisor and starts
// rendering. Rendering stops when ctx is done.
func (s *simulator) Start(ctx context.Context) error {
	p := model.Process{PID: int32(os.Getpid()), Name: simProcess}
	s.registry.Register(p.Name, s.chain)

	// Frames flow before the hook goes in, like a game that is already running.
	s.wg.Add(1)
	go s.render(ctx)

	if err := s.engine.RequestAttach(ctx, p); err != nil {
		return fmt.Errorf("attaching to simulator: %w", err)
	}
	s.logger.Info("simulator attached", "fps", s.fps, "size", fmt.Sprintf("%dx%d", simWidth, simHeight))

	s.wg.Add(1)
	go s.logStats(ctx)
	return nil
}

// Wait blocks until the render and stats loops have exited.
func (s *simulator) Wait() {
	s.wg.Wait()
}

func (s *simulator) render(ctx context.Context) {
	defer s.wg.Done()

	interval := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Roughly one frame in 250 stalls, which is what the lows are for.
			if rand.IntN(250) == 0 {
				time.Sleep(interval * time.Duration(2+rand.IntN(4)))
			}
			if err := s.chain.Present(); err != nil {
				s.logger.Warn("present failed", "err", err)
			}
		}
	}
}

func (s *simulator) logStats(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(simStatsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := s.engine.FrameStats()
			s.logger.Info("frame stats",
				"fps", round1(s.engine.CurrentFPS()),
				"frame_ms", round1(s.engine.CurrentFrameTimeMs()),
				"low_1", round1(s.engine.Get1PercentLow()),
				"low_0_1", round1(s.engine.Get01PercentLow()),
				"samples", stats.Samples,
				"presented", s.chain.Presented(),
			)
		}
	}
}

func round1(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
