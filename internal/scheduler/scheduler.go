// Package scheduler provides cron-based scheduling for game detection scans
// and periodic session reports.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ramboxcrty/GameRMCR/internal/model"
	"github.com/ramboxcrty/GameRMCR/internal/notifier"
)

const (
	// DefaultScanTimeout bounds one detection scan, including any attaches it starts.
	DefaultScanTimeout = 30 * time.Second

	// DefaultReportTimeout bounds building and sending one session report.
	DefaultReportTimeout = time.Minute
)

// Scanner looks for new and exited games and reacts to them.
type Scanner interface {
	Scan(ctx context.Context) error
}

// Reporter builds a session report.
type Reporter interface {
	Report(ctx context.Context) (*model.SessionReport, error)
}

// Scheduler manages scheduled scan and report jobs.
type Scheduler struct {
	cron          *cron.Cron
	scanner       Scanner
	reporter      Reporter
	notifier      notifier.Notifier
	logger        *slog.Logger
	scanTimeout   time.Duration
	reportTimeout time.Duration

	mu        sync.Mutex
	running   bool
	scanning  int32 // atomic flag to prevent overlapping scans
	reporting int32 // atomic flag to prevent overlapping reports
}

// New creates a new Scheduler. Cron expressions use six fields (with seconds)
// and are interpreted in loc; if loc is nil, UTC is used.
func New(scanner Scanner, reporter Reporter, notify notifier.Notifier, loc *time.Location, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:          cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		scanner:       scanner,
		reporter:      reporter,
		notifier:      notify,
		logger:        logger.With("component", "scheduler"),
		scanTimeout:   DefaultScanTimeout,
		reportTimeout: DefaultReportTimeout,
	}
}

// SetTimeouts overrides the per-run timeouts. Zero keeps the current value.
func (s *Scheduler) SetTimeouts(scan, report time.Duration) {
	if scan > 0 {
		s.scanTimeout = scan
	}
	if report > 0 {
		s.reportTimeout = report
	}
}

// ScheduleScan adds the detection scan with the given cron expression.
func (s *Scheduler) ScheduleScan(cronExpr string) error {
	if s.scanner == nil {
		return errors.New("scheduler: no scanner configured")
	}
	_, err := s.cron.AddFunc(cronExpr, s.runScan)
	return err
}

// ScheduleReport adds the session report with the given cron expression.
func (s *Scheduler) ScheduleReport(cronExpr string) error {
	if s.reporter == nil || s.notifier == nil {
		return errors.New("scheduler: no reporter or notifier configured")
	}
	_, err := s.cron.AddFunc(cronExpr, s.runReport)
	return err
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts all scheduled jobs. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return context.Background()
	}

	ctx := s.cron.Stop()
	s.running = false
	s.logger.Info("scheduler stopped")
	return ctx
}

// ScanNow triggers an immediate detection scan (bypassing schedule).
func (s *Scheduler) ScanNow() {
	s.runScan()
}

// ReportNow triggers an immediate session report (bypassing schedule).
func (s *Scheduler) ReportNow() {
	s.runReport()
}

// runScan skips the run when the previous scan is still in progress.
func (s *Scheduler) runScan() {
	if !atomic.CompareAndSwapInt32(&s.scanning, 0, 1) {
		s.logger.Debug("scan already in progress, skipping this run")
		return
	}
	defer atomic.StoreInt32(&s.scanning, 0)

	ctx, cancel := context.WithTimeout(context.Background(), s.scanTimeout)
	defer cancel()

	if err := s.scanner.Scan(ctx); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			s.logger.Warn("scan timed out", "timeout", s.scanTimeout)
		} else {
			s.logger.Warn("scan failed", "err", err)
		}
	}
}

// runReport builds a report and sends it; overlapping runs are skipped.
func (s *Scheduler) runReport() {
	if !atomic.CompareAndSwapInt32(&s.reporting, 0, 1) {
		s.logger.Info("report already in progress, skipping this run")
		return
	}
	defer atomic.StoreInt32(&s.reporting, 0)

	ctx, cancel := context.WithTimeout(context.Background(), s.reportTimeout)
	defer cancel()

	report, err := s.reporter.Report(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			s.logger.Warn("report timed out", "timeout", s.reportTimeout)
		} else {
			s.logger.Warn("report failed", "err", err)
		}
		return
	}

	s.logger.Info("report built", "req_id", report.ReqID, "hooks", len(report.Hooks), "fps", report.Frames.FPS)

	if err := s.notifier.Send(ctx, report); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			s.logger.Warn("notification timed out")
		} else {
			s.logger.Warn("notification failed", "notifier", s.notifier.Name(), "err", err)
		}
		return
	}

	s.logger.Info("report sent", "notifier", s.notifier.Name())
}

// IsRunning returns whether the scheduler is currently active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsScanning returns whether a detection scan is currently in progress.
func (s *Scheduler) IsScanning() bool {
	return atomic.LoadInt32(&s.scanning) == 1
}

// IsReporting returns whether a report is currently in progress.
func (s *Scheduler) IsReporting() bool {
	return atomic.LoadInt32(&s.reporting) == 1
}
