// Package engine ties the frame hook, the attach supervisor, the overlay and
// the hardware monitor together behind the API the host integration uses.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/ramboxcrty/GameRMCR/internal/config"
	"github.com/ramboxcrty/GameRMCR/internal/diagnostics"
	"github.com/ramboxcrty/GameRMCR/internal/hook"
	"github.com/ramboxcrty/GameRMCR/internal/metrics"
	"github.com/ramboxcrty/GameRMCR/internal/model"
	"github.com/ramboxcrty/GameRMCR/internal/monitor"
	"github.com/ramboxcrty/GameRMCR/internal/overlay"
	"github.com/ramboxcrty/GameRMCR/internal/present"
	"github.com/ramboxcrty/GameRMCR/internal/store"
	"github.com/ramboxcrty/GameRMCR/internal/supervisor"
)

// Version is the engine version. It can be overridden with -ldflags "-X".
var Version = "1.0.0"

const (
	// reportFailures bounds the failing transitions carried by a session report.
	reportFailures = 20

	shutdownTimeout = 5 * time.Second
)

// Options configures an Engine.
type Options struct {
	// Config holds every tunable. Defaults to config.Default().
	Config *config.Config

	// Blacklist persists permanent incompatibilities. Defaults to an in-memory store.
	Blacklist store.Blacklist

	// History persists attach transitions beyond the diagnostics ring. Optional.
	History diagnostics.Sink

	// Resolver locates presentation entry points. Defaults to an empty Registry.
	Resolver Resolver

	// Source feeds the hardware poller. Without it metrics come only from PublishMetrics.
	Source monitor.Source

	// Detector finds game processes for Scan. Optional.
	Detector *monitor.Detector

	// NewBackend creates the overlay backend of each new hook. Defaults to the raster backend.
	NewBackend func() overlay.Backend

	Clock  clockz.Clock
	Logger *slog.Logger
}

type attached struct {
	hook *hook.Hook
	seq  uint64
}

// batchBlacklist is implemented by stores that can check many names in one call.
type batchBlacklist interface {
	FilterBlacklisted(ctx context.Context, names []string) ([]string, error)
}

// Engine owns the telemetry pipeline of one host.
type Engine struct {
	cfg        *config.Config
	clock      clockz.Clock
	base       *slog.Logger
	logger     *slog.Logger
	blacklist  store.Blacklist
	resolver   Resolver
	detector   *monitor.Detector
	newBackend func() overlay.Backend

	settings   *overlay.Settings
	metrics    *metrics.Channel
	recorder   *diagnostics.Recorder
	supervisor *supervisor.Supervisor
	poller     *monitor.Poller

	mu          sync.Mutex
	hooks       map[string]attached
	seq         uint64
	initialized bool
	closed      bool
	startedAt   time.Time
	lastReport  time.Time
	cancel      context.CancelFunc
	bg          context.Context
	wg          sync.WaitGroup
}

// New creates an engine. Nothing runs until Initialize.
func New(opts Options) (*Engine, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockz.RealClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Blacklist == nil {
		opts.Blacklist = store.NewMemory()
	}
	if opts.Resolver == nil {
		opts.Resolver = NewRegistry()
	}
	cfg := opts.Config

	overlayCfg, err := cfg.Overlay.ToModel()
	if err != nil {
		return nil, fmt.Errorf("overlay config: %w", err)
	}
	backoff, err := cfg.Supervisor.BackoffParsed()
	if err != nil {
		return nil, fmt.Errorf("supervisor backoff: %w", err)
	}
	crashWindow, err := cfg.Supervisor.CrashWindowParsed()
	if err != nil {
		return nil, fmt.Errorf("supervisor crash window: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		clock:      opts.Clock,
		base:       opts.Logger,
		logger:     opts.Logger.With("component", "engine"),
		blacklist:  opts.Blacklist,
		resolver:   opts.Resolver,
		detector:   opts.Detector,
		newBackend: opts.NewBackend,
		settings:   overlay.NewSettings(overlayCfg),
		metrics:    metrics.NewChannel(),
		hooks:      make(map[string]attached),
	}
	e.settings.SetVisible(cfg.Overlay.IsVisible())

	e.recorder = diagnostics.New(diagnostics.Options{
		Logger: opts.Logger,
		Clock:  opts.Clock,
		Sink:   opts.History,
	})
	e.supervisor = supervisor.New(supervisor.Options{
		Attacher:    attacher{e: e},
		Blacklist:   opts.Blacklist,
		Recorder:    e.recorder,
		Clock:       opts.Clock,
		Logger:      opts.Logger,
		MaxAttempts: cfg.Supervisor.MaxAttempts,
		Backoff:     backoff,
		CrashWindow: crashWindow,
		OnUnsupported: func(p model.Process, api present.API) {
			e.settings.SetUnsupported(api.String())
		},
	})

	if opts.Source != nil {
		interval, err := cfg.Monitor.PollIntervalParsed()
		if err != nil {
			return nil, fmt.Errorf("monitor poll interval: %w", err)
		}
		e.poller = monitor.NewPoller(opts.Source, e.metrics, opts.Clock, interval, opts.Logger)
	}
	return e, nil
}

// Initialize loads the blacklist and starts the hardware poller.
// Calling it again is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return supervisor.ErrClosed
	}
	if e.initialized {
		return nil
	}

	if err := e.supervisor.LoadBlacklist(ctx); err != nil {
		// Attach checks still consult the store, so this only hides entries from snapshots.
		e.logger.Warn("failed to load blacklist", "err", err)
		e.recorder.Error("initialize", "", err)
	}

	e.bg, e.cancel = context.WithCancel(context.Background())
	if e.poller != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.poller.Run(e.bg)
		}()
	}

	e.startedAt = e.clock.Now()
	e.lastReport = e.startedAt
	e.initialized = true
	e.logger.Info("engine initialized", "version", Version, "window", e.cfg.Frames.WindowSize)
	return nil
}

// Shutdown detaches every hook and stops background work. Calling it again
// is a no-op.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx, done := e.clock.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := e.supervisor.Shutdown(ctx); err != nil {
		e.logger.Error("detach during shutdown failed", "err", err)
		e.recorder.Error("shutdown", "", err)
	}
	e.wg.Wait()
	e.logger.Info("engine shut down", "uptime", e.clock.Now().Sub(e.startedAt).Round(time.Second))
}

// Version returns the engine version.
func (e *Engine) Version() string {
	return Version
}

// PublishMetrics hands a hardware sample to the overlay. Out-of-range values
// are replaced by the last good value or shown as N/A.
func (e *Engine) PublishMetrics(cpu, cpuTemp, gpu, gpuTemp float64, ramMB, vramMB int) {
	e.metrics.Publish(model.HardwareMetrics{
		CPUUsage:   cpu,
		CPUTemp:    cpuTemp,
		GPUUsage:   gpu,
		GPUTemp:    gpuTemp,
		RAMUsedMB:  ramMB,
		VRAMUsedMB: vramMB,
		Timestamp:  e.clock.Now(),
	})
}

// ApplyOverlayConfig replaces the overlay configuration. Visibility is kept.
func (e *Engine) ApplyOverlayConfig(cfg model.OverlayConfig) {
	e.settings.SetConfig(cfg)
}

// SetVisible shows or hides the overlay.
func (e *Engine) SetVisible(v bool) {
	e.settings.SetVisible(v)
}

// SetPosition moves the overlay relative to its anchor.
func (e *Engine) SetPosition(x, y int) {
	e.settings.SetPosition(x, y)
}

// SetOpacity sets the overlay opacity, clamped to 0.0-1.0.
func (e *Engine) SetOpacity(v float64) {
	e.settings.SetOpacity(v)
}

// IsOverlayVisible reports whether the overlay is shown.
func (e *Engine) IsOverlayVisible() bool {
	return e.settings.Visible()
}

// OverlayConfig returns the current overlay configuration.
func (e *Engine) OverlayConfig() model.OverlayConfig {
	return e.settings.Config()
}

// CurrentFPS returns the frame rate of the most recently attached hook, or 0.
func (e *Engine) CurrentFPS() float64 {
	if h := e.current(); h != nil {
		return h.CurrentFPS()
	}
	return 0
}

// CurrentFrameTimeMs returns the last frame time of the most recently attached hook, or 0.
func (e *Engine) CurrentFrameTimeMs() float64 {
	if h := e.current(); h != nil {
		return h.CurrentFrameTimeMs()
	}
	return 0
}

// Get1PercentLow returns the 1% low FPS of the rolling window.
func (e *Engine) Get1PercentLow() float64 {
	return e.FrameStats().Low1
}

// Get01PercentLow returns the 0.1% low FPS of the rolling window.
func (e *Engine) Get01PercentLow() float64 {
	return e.FrameStats().Low01
}

// FrameStats returns the latest published window statistics.
func (e *Engine) FrameStats() model.FrameStats {
	if h := e.current(); h != nil {
		return h.Stats()
	}
	return model.FrameStats{}
}

// ActiveHooksSnapshot maps every known process identity to its attachment state.
func (e *Engine) ActiveHooksSnapshot() map[string]model.AttachmentState {
	return e.supervisor.Snapshot()
}

// RequestAttach attaches to p through the supervisor. It blocks through retries.
func (e *Engine) RequestAttach(ctx context.Context, p model.Process) error {
	return e.supervisor.RequestAttach(ctx, p)
}

// Detach removes the hook from the named process.
func (e *Engine) Detach(ctx context.Context, name string) error {
	return e.supervisor.Detach(ctx, name)
}

// NotifyTerminated reports that the named host process exited.
func (e *Engine) NotifyTerminated(name string) {
	e.supervisor.NotifyTerminated(name)
}

// Unblacklist lets the named process be attached again.
func (e *Engine) Unblacklist(ctx context.Context, name string) error {
	return e.supervisor.Unblacklist(ctx, name)
}

// History returns the attach transitions of one process.
func (e *Engine) History(name string) []model.TransitionRecord {
	return e.supervisor.History(name)
}

// Metrics returns the hardware metrics channel.
func (e *Engine) Metrics() *metrics.Channel {
	return e.metrics
}

// Diagnostics returns the diagnostics recorder.
func (e *Engine) Diagnostics() *diagnostics.Recorder {
	return e.recorder
}

// RenderedText returns what the overlay would show for the current statistics.
func (e *Engine) RenderedText() string {
	stats := e.FrameStats()
	hw, ok := e.metrics.ReadLatest()
	if !ok {
		hw = model.Unavailable()
	}
	return e.settings.GetRenderedText(model.OverlayMetrics{
		FPS:         stats.FPS,
		FrameTimeMs: stats.FrameTimeMs,
		Low1:        stats.Low1,
		Low01:       stats.Low01,
		Hardware:    hw,
	})
}

// Snapshot returns the read-only telemetry view.
func (e *Engine) Snapshot() model.TelemetrySnapshot {
	snap := model.TelemetrySnapshot{
		Timestamp:      e.clock.Now(),
		Version:        Version,
		OverlayVisible: e.settings.Visible(),
		CadenceDivisor: 1,
		Hooks:          e.supervisor.Snapshot(),
	}
	if h := e.current(); h != nil {
		snap.Frames = h.Stats()
		snap.CadenceDivisor = h.Divisor()
	}
	if hw, ok := e.metrics.ReadLatest(); ok {
		snap.Hardware = &hw
	}
	return snap
}

// ExportDiagnostics writes the diagnostics report as JSON.
func (e *Engine) ExportDiagnostics(ctx context.Context, w io.Writer) error {
	entries, err := e.blacklist.List(ctx)
	if err != nil {
		e.logger.Warn("failed to list blacklist for export", "err", err)
		entries = nil
	}
	return e.recorder.Export(w, Version, monitor.SystemInfo(ctx), entries)
}

// Report builds a session report covering the time since the previous one.
func (e *Engine) Report(ctx context.Context) (*model.SessionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	e.mu.Lock()
	start := e.lastReport
	e.lastReport = now
	e.mu.Unlock()
	if start.IsZero() {
		start = now
	}

	snap := e.Snapshot()
	entries, err := e.blacklist.List(ctx)
	if err != nil {
		// The report is still useful without the blacklist.
		e.logger.Warn("failed to list blacklist for report", "err", err)
		entries = nil
	}

	return &model.SessionReport{
		ReqID:          generateReqID(now),
		Timestamp:      now,
		Version:        Version,
		Window:         model.TimeWindow{Start: start, End: now},
		Frames:         snap.Frames,
		Hardware:       snap.Hardware,
		Hooks:          snap.Hooks,
		Blacklist:      entries,
		Failures:       e.supervisor.Failures(reportFailures),
		OverlayVisible: snap.OverlayVisible,
		CadenceDivisor: snap.CadenceDivisor,
	}, nil
}

// Scan looks for started and exited games. Exited games are reported to the
// supervisor; started games with a known entry point are attached in the
// background when auto-attach is on.
func (e *Engine) Scan(ctx context.Context) error {
	if e.detector == nil {
		return nil
	}
	started, exited, err := e.detector.Update(ctx)
	if err != nil {
		return fmt.Errorf("scanning processes: %w", err)
	}

	for _, p := range exited {
		e.logger.Info("game exited", "process", p.Name, "pid", p.PID)
		e.supervisor.NotifyTerminated(p.Name)
	}

	if len(started) == 0 {
		return nil
	}
	if !e.cfg.Detection.AutoAttach {
		for _, p := range started {
			e.logger.Info("game detected", "process", p.Name, "pid", p.PID)
		}
		return nil
	}

	blocked := e.filterBlacklisted(ctx, started)
	for _, p := range started {
		if blocked[p.Identity()] {
			e.logger.Debug("skipping blacklisted game", "process", p.Name)
			continue
		}
		if _, err := e.resolver.Resolve(ctx, p); err != nil {
			e.logger.Debug("no presentation target", "process", p.Name, "err", err)
			continue
		}
		e.attachAsync(p)
	}
	return nil
}

// filterBlacklisted returns the blacklisted identities among ps. Stores that
// support batch lookups are asked once; errors fall back to the supervisor's
// per-attach check.
func (e *Engine) filterBlacklisted(ctx context.Context, ps []model.Process) map[string]bool {
	batch, ok := e.blacklist.(batchBlacklist)
	if !ok {
		return nil
	}
	names := make([]string, len(ps))
	for i, p := range ps {
		names[i] = p.Identity()
	}
	found, err := batch.FilterBlacklisted(ctx, names)
	if err != nil {
		e.logger.Warn("batch blacklist lookup failed", "err", err)
		return nil
	}
	out := make(map[string]bool, len(found))
	for _, n := range found {
		out[n] = true
	}
	return out
}

func (e *Engine) attachAsync(p model.Process) {
	e.mu.Lock()
	if e.closed || e.bg == nil {
		e.mu.Unlock()
		return
	}
	ctx := e.bg
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		err := e.supervisor.RequestAttach(ctx, p)
		switch {
		case err == nil:
		case errors.Is(err, supervisor.ErrBusy), errors.Is(err, supervisor.ErrBlacklisted),
			errors.Is(err, supervisor.ErrClosed), errors.Is(err, context.Canceled):
			e.logger.Debug("attach not started", "process", p.Name, "err", err)
		default:
			e.logger.Warn("attach failed", "process", p.Name, "err", err)
		}
	}()
}

// current returns the most recently attached live hook.
func (e *Engine) current() *hook.Hook {
	e.mu.Lock()
	defer e.mu.Unlock()
	var best attached
	for _, a := range e.hooks {
		if a.seq > best.seq {
			best = a
		}
	}
	return best.hook
}

func (e *Engine) track(id string, h *hook.Hook) {
	e.mu.Lock()
	e.seq++
	e.hooks[id] = attached{hook: h, seq: e.seq}
	e.mu.Unlock()
}

func (e *Engine) forget(id string, h *hook.Hook) {
	e.mu.Lock()
	if a, ok := e.hooks[id]; ok && a.hook == h {
		delete(e.hooks, id)
	}
	e.mu.Unlock()
}

// attacher builds a fresh hook for every attach attempt.
type attacher struct {
	e *Engine
}

func (a attacher) Attach(ctx context.Context, p model.Process) (supervisor.Session, error) {
	e := a.e
	target, err := e.resolver.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	opts := hook.Options{
		Process:        p,
		Clock:          e.clock,
		WindowCapacity: e.cfg.Frames.WindowSize,
		Throttle:       e.cfg.Throttle.ToThrottle(),
		Metrics:        e.metrics,
		Overlay:        e.settings,
		Faults:         e.recorder,
		Logger:         e.base,
	}
	if e.newBackend != nil {
		opts.Backend = e.newBackend()
	}

	h := hook.New(target, opts)
	if err := h.Attach(ctx); err != nil {
		return nil, err
	}
	// A supported host clears a notice left by an earlier unsupported one.
	e.settings.SetUnsupported("")
	e.track(p.Identity(), h)
	return &session{e: e, id: p.Identity(), hook: h}, nil
}

type session struct {
	e    *Engine
	id   string
	hook *hook.Hook
}

func (s *session) Detach(ctx context.Context) error {
	defer s.e.forget(s.id, s.hook)
	return s.hook.Detach(ctx)
}

func generateReqID(now time.Time) string {
	return fmt.Sprintf("rmcr-%d", now.UnixNano())
}
