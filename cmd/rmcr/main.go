// rmcr is the frame telemetry and overlay engine host. It watches for game
// processes, attaches the frame hook through the supervisor, feeds hardware
// metrics to the overlay and periodically reports session statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ramboxcrty/GameRMCR/internal/config"
	"github.com/ramboxcrty/GameRMCR/internal/diagnostics"
	"github.com/ramboxcrty/GameRMCR/internal/engine"
	"github.com/ramboxcrty/GameRMCR/internal/monitor"
	"github.com/ramboxcrty/GameRMCR/internal/notifier"
	"github.com/ramboxcrty/GameRMCR/internal/scheduler"
	"github.com/ramboxcrty/GameRMCR/internal/server"
	"github.com/ramboxcrty/GameRMCR/internal/store"
)

var (
	// Build information (set at build time via -ldflags)
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file (built-in defaults when empty)")
	runOnce := flag.Bool("once", false, "Run one detection scan and one report, then exit")
	simulate := flag.Bool("simulate", false, "Render a synthetic game and attach to it")
	simFPS := flag.Int("sim-fps", 144, "Target frame rate of the simulated game")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("rmcr %s (commit: %s, built: %s)\n", engine.Version, commit, buildDate)
		os.Exit(0)
	}

	// Load configuration
	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := setupLogger(&cfg.Logging)
	defer closeLog()

	if err := run(cfg, logger, *runOnce, *simulate, *simFPS); err != nil {
		logger.Error("rmcr failed", "err", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, runOnce, simulate bool, simFPS int) error {
	logger.Info("rmcr starting", "version", engine.Version, "store", cfg.Blacklist.Store)

	// Open the blacklist store
	blacklist, sqlStore, err := openStore(&cfg.Blacklist, logger)
	if err != nil {
		return err
	}
	defer blacklist.Close()

	var history diagnostics.Sink
	var pinger server.Pinger
	if sqlStore != nil {
		history = sqlStore
		pinger = sqlStore
	}

	source, err := monitor.NewSource(cfg.Monitor.Source)
	if err != nil {
		return fmt.Errorf("hardware source: %w", err)
	}

	var detector *monitor.Detector
	if cfg.Detection.Enabled {
		detector = monitor.NewDetector(monitor.ListProcesses, cfg.Detection.CustomGames, cfg.Detection.IgnoreGames)
	}

	registry := engine.NewRegistry()
	eng, err := engine.New(engine.Options{
		Config:    cfg,
		Blacklist: blacklist,
		History:   history,
		Resolver:  registry,
		Source:    source,
		Detector:  detector,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = eng.Initialize(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}
	defer eng.Shutdown()

	notify, err := notifier.New(&cfg.Notifier)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}
	logger.Info("Notifier initialized", "notifier", notify.Name())

	// Run-once mode
	if runOnce {
		return runOnceMode(eng, notify, detector != nil, logger)
	}

	// Signal handling covers the simulator too.
	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sim *simulator
	if simulate {
		sim = newSimulator(eng, registry, simFPS, logger)
		if err := sim.Start(runCtx); err != nil {
			logger.Error("simulator failed to attach", "err", err)
		}
	}

	// HTTP server
	var httpServer *server.Server
	if cfg.Server.Enabled {
		httpServer = server.New(&cfg.Server, eng, pinger, logger)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("starting http server: %w", err)
		}
	}

	// Scheduler (cron interpreted in the configured timezone)
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return fmt.Errorf("schedule timezone: %w", err)
	}
	var scanner scheduler.Scanner
	if detector != nil {
		scanner = eng
	}
	sched := scheduler.New(scanner, eng, notify, loc, logger)
	if scanner != nil {
		if err := sched.ScheduleScan(cfg.Schedule.DetectCron); err != nil {
			return fmt.Errorf("scheduling detection scan: %w", err)
		}
	}
	if err := sched.ScheduleReport(cfg.Schedule.ReportCron); err != nil {
		return fmt.Errorf("scheduling report: %w", err)
	}
	sched.Start()
	logger.Info("Scheduler started",
		"detect_cron", cfg.Schedule.DetectCron,
		"report_cron", cfg.Schedule.ReportCron,
		"timezone", loc.String(),
	)

	// Wait for shutdown signal
	<-runCtx.Done()
	logger.Info("Shutdown signal received, shutting down")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
	case <-shutdownCtx.Done():
	}

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Warn("Error stopping http server", "err", err)
		}
	}

	if sim != nil {
		sim.Wait()
	}

	// Final session report before the hooks go away.
	reportCtx, reportCancel := context.WithTimeout(shutdownCtx, scheduler.DefaultReportTimeout)
	defer reportCancel()
	if report, err := eng.Report(reportCtx); err == nil {
		if err := notify.Send(reportCtx, report); err != nil {
			logger.Warn("final report failed", "notifier", notify.Name(), "err", err)
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

func runOnceMode(eng *engine.Engine, notify notifier.Notifier, scan bool, logger *slog.Logger) error {
	logger.Info("Running single scan and report (--once mode)")

	if scan {
		scanCtx, cancel := context.WithTimeout(context.Background(), scheduler.DefaultScanTimeout)
		err := eng.Scan(scanCtx)
		cancel()
		if err != nil {
			logger.Warn("scan failed", "err", err)
		}
	}

	// Use same timeout as the scheduler would
	ctx, cancel := context.WithTimeout(context.Background(), scheduler.DefaultReportTimeout)
	defer cancel()

	report, err := eng.Report(ctx)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}
	if err := notify.Send(ctx, report); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("notification timed out after %v", scheduler.DefaultReportTimeout)
		}
		return fmt.Errorf("sending report: %w", err)
	}

	logger.Info("Report complete, exiting")
	return nil
}

// openStore opens the configured blacklist store. The SQL store is also
// returned on its own since it doubles as history sink and health pinger.
func openStore(cfg *config.BlacklistConfig, logger *slog.Logger) (store.Blacklist, *store.SQL, error) {
	switch cfg.Store {
	case "memory":
		return store.NewMemory(), nil, nil
	case "postgres":
		s, err := store.NewSQL(&cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening blacklist database: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("connecting to blacklist database: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("creating blacklist schema: %w", err)
		}
		logger.Info("Database connection established", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)
		return s, s, nil
	default:
		f, err := store.OpenFile(cfg.Path, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening blacklist file: %w", err)
		}
		return f, nil, nil
	}
}
