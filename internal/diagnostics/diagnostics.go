// Package diagnostics keeps the structured failure and attach history that
// backs the transparency surfaces (logs, HTTP, exported reports).
package diagnostics

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// Default sizes.
const (
	DefaultCapacity = 512
	pendingCapacity = 256
)

// Levels used in entries.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

// Entry is one diagnostics record.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Context string    `json:"context"`
	Message string    `json:"message,omitempty"`
	Process string    `json:"process,omitempty"`
	PID     int32     `json:"pid,omitempty"`
	Attempt int       `json:"attempt,omitempty"`
	From    string    `json:"from,omitempty"`
	To      string    `json:"to,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Sink persists attach transitions beyond the in-memory ring.
type Sink interface {
	SaveTransition(ctx context.Context, rec model.TransitionRecord) error
}

// Options configures a Recorder.
type Options struct {
	Capacity int
	Logger   *slog.Logger
	Clock    clockz.Clock
	Sink     Sink
}

// Recorder collects diagnostics entries in a bounded ring.
//
// Transition and Error may block briefly on the ring mutex and on logging.
// Fault never blocks: it is meant for the render thread and queues the
// entry for the next reader or writer to drain.
type Recorder struct {
	logger *slog.Logger
	clock  clockz.Clock
	sink   Sink

	mu      sync.Mutex
	ring    []Entry
	next    int
	full    bool
	total   uint64
	byLevel map[string]int
	byCtx   map[string]int

	pending chan Entry
	dropped atomic.Uint64
}

// New creates a recorder.
func New(opts Options) *Recorder {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockz.RealClock
	}
	return &Recorder{
		logger:  opts.Logger.With("component", "diagnostics"),
		clock:   opts.Clock,
		sink:    opts.Sink,
		ring:    make([]Entry, opts.Capacity),
		byLevel: make(map[string]int),
		byCtx:   make(map[string]int),
		pending: make(chan Entry, pendingCapacity),
	}
}

// Transition records an attachment state change. Records are also handed to
// the sink, when one is configured.
func (r *Recorder) Transition(rec model.TransitionRecord) {
	if rec.Time.IsZero() {
		rec.Time = r.clock.Now()
	}
	level := LevelInfo
	switch rec.To {
	case model.StateFailing:
		level = LevelWarn
	case model.StateBlacklisted:
		level = LevelError
	}

	r.add(Entry{
		Time:    rec.Time,
		Level:   level,
		Context: rec.Context,
		Process: rec.Process,
		PID:     rec.PID,
		Attempt: rec.Attempt,
		From:    rec.From.String(),
		To:      rec.To.String(),
		Reason:  string(rec.Reason),
		Error:   rec.Error,
	})

	if r.sink != nil {
		ctx, cancel := r.clock.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.sink.SaveTransition(ctx, rec); err != nil {
			r.logger.Warn("failed to persist transition", "process", rec.Process, "err", err)
		}
	}
}

// Error records a failure outside the attach state machine.
func (r *Recorder) Error(scope, process string, err error) {
	r.add(r.errorEntry(scope, process, err))
}

// Fault records a failure from the render thread without blocking.
// When the queue is full the entry is counted as dropped.
func (r *Recorder) Fault(scope, process string, err error) {
	select {
	case r.pending <- r.errorEntry(scope, process, err):
	default:
		r.dropped.Add(1)
	}
}

// Entries returns all retained entries, oldest first.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainLocked()
	return r.snapshotLocked()
}

// Recent returns at most n of the newest entries matching keep, oldest first.
// A nil keep matches everything.
func (r *Recorder) Recent(n int, keep func(Entry) bool) []Entry {
	r.mu.Lock()
	r.drainLocked()
	all := r.snapshotLocked()
	r.mu.Unlock()

	var out []Entry
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		if keep == nil || keep(all[i]) {
			out = append(out, all[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Summary counts entries by level and context.
type Summary struct {
	Total     uint64         `json:"total"`
	Dropped   uint64         `json:"dropped"`
	ByLevel   map[string]int `json:"by_level"`
	ByContext map[string]int `json:"by_context"`
}

// Summary returns counts over every entry recorded so far, including evicted ones.
func (r *Recorder) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainLocked()

	s := Summary{
		Total:     r.total,
		Dropped:   r.dropped.Load(),
		ByLevel:   make(map[string]int, len(r.byLevel)),
		ByContext: make(map[string]int, len(r.byCtx)),
	}
	for k, v := range r.byLevel {
		s.ByLevel[k] = v
	}
	for k, v := range r.byCtx {
		s.ByContext[k] = v
	}
	return s
}

// SystemInfo describes the machine in exported reports.
type SystemInfo struct {
	Hostname      string `json:"hostname,omitempty"`
	OS            string `json:"os,omitempty"`
	CPUCount      int    `json:"cpu_count,omitempty"`
	MemoryTotalMB uint64 `json:"memory_total_mb,omitempty"`
}

// Report is the exported diagnostics document.
type Report struct {
	ExportedAt time.Time              `json:"exported_at"`
	Version    string                 `json:"version,omitempty"`
	System     *SystemInfo            `json:"system_info,omitempty"`
	Summary    Summary                `json:"summary"`
	Errors     []Entry                `json:"error_logs"`
	Attempts   []Entry                `json:"injection_attempts"`
	Blacklist  []model.BlacklistEntry `json:"blacklist"`
}

// Export limits.
const (
	exportErrors   = 50
	exportAttempts = 20
)

// BuildReport assembles the exported document.
func (r *Recorder) BuildReport(version string, sys *SystemInfo, blacklist []model.BlacklistEntry) Report {
	summary := r.Summary()
	if blacklist == nil {
		blacklist = []model.BlacklistEntry{}
	}
	rep := Report{
		ExportedAt: r.clock.Now(),
		Version:    version,
		System:     sys,
		Summary:    summary,
		Errors:     r.Recent(exportErrors, func(e Entry) bool { return e.Level != LevelInfo && e.To == "" }),
		Attempts:   r.Recent(exportAttempts, func(e Entry) bool { return e.To != "" }),
		Blacklist:  blacklist,
	}
	if rep.Errors == nil {
		rep.Errors = []Entry{}
	}
	if rep.Attempts == nil {
		rep.Attempts = []Entry{}
	}
	return rep
}

// Export writes the report as indented JSON.
func (r *Recorder) Export(w io.Writer, version string, sys *SystemInfo, blacklist []model.BlacklistEntry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(r.BuildReport(version, sys, blacklist))
}

func (r *Recorder) errorEntry(scope, process string, err error) Entry {
	e := Entry{
		Time:    r.clock.Now(),
		Level:   LevelError,
		Context: scope,
		Process: process,
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (r *Recorder) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drainLocked()
	r.appendLocked(e)
}

func (r *Recorder) drainLocked() {
	for {
		select {
		case e := <-r.pending:
			r.appendLocked(e)
		default:
			return
		}
	}
}

func (r *Recorder) appendLocked(e Entry) {
	r.ring[r.next] = e
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.total++
	r.byLevel[e.Level]++
	r.byCtx[e.Context]++
	r.log(e)
}

func (r *Recorder) snapshotLocked() []Entry {
	if !r.full {
		return append([]Entry(nil), r.ring[:r.next]...)
	}
	out := make([]Entry, 0, len(r.ring))
	out = append(out, r.ring[r.next:]...)
	return append(out, r.ring[:r.next]...)
}

func (r *Recorder) log(e Entry) {
	attrs := []any{"context", e.Context}
	if e.Process != "" {
		attrs = append(attrs, "process", e.Process)
	}
	if e.Attempt > 0 {
		attrs = append(attrs, "attempt", e.Attempt)
	}
	if e.To != "" {
		attrs = append(attrs, "from", e.From, "to", e.To, "reason", e.Reason)
	}
	if e.Error != "" {
		attrs = append(attrs, "err", e.Error)
	}

	msg := e.Message
	if msg == "" {
		msg = "diagnostic"
		if e.To != "" {
			msg = "attach transition"
		}
	}

	switch e.Level {
	case LevelError:
		r.logger.Error(msg, attrs...)
	case LevelWarn:
		r.logger.Warn(msg, attrs...)
	default:
		r.logger.Info(msg, attrs...)
	}
}
