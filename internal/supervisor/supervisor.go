// Package supervisor decides when the frame hook may be attached to a host
// process, retries failed installs with backoff, and blacklists process
// identities that proved incompatible.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zoobzio/clockz"

	"github.com/ramboxcrty/GameRMCR/internal/model"
	"github.com/ramboxcrty/GameRMCR/internal/present"
)

// Defaults for the attach policy.
const (
	DefaultMaxAttempts  = 3
	DefaultCrashWindow  = 5 * time.Second
	DefaultHistoryLimit = 64
)

// DefaultBackoff is the delay schedule between attempts.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Session is an installed hook.
type Session interface {
	Detach(ctx context.Context) error
}

// Attacher performs one hook installation attempt.
type Attacher interface {
	Attach(ctx context.Context, p model.Process) (Session, error)
}

// Blacklist is the durable record of incompatible process identities.
type Blacklist interface {
	IsBlacklisted(ctx context.Context, name string) (bool, error)
	RecordPermanentFailure(ctx context.Context, name string, reason model.Reason) error
	Remove(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]model.BlacklistEntry, error)
}

// Recorder receives every state transition.
type Recorder interface {
	Transition(rec model.TransitionRecord)
}

// Options configures a Supervisor.
type Options struct {
	Attacher  Attacher
	Blacklist Blacklist
	Recorder  Recorder
	Clock     clockz.Clock
	Logger    *slog.Logger

	// MaxAttempts bounds installation attempts per request. Defaults to 3.
	MaxAttempts int

	// Backoff holds the delays before the 2nd, 3rd, ... attempt.
	Backoff []time.Duration

	// CrashWindow is how soon after attaching a host exit counts as a crash.
	CrashWindow time.Duration

	// HistoryLimit bounds the per-process transition history.
	HistoryLimit int

	// Wait sleeps between attempts. Defaults to a wait on Clock.
	Wait func(ctx context.Context, d time.Duration) error

	// OnUnsupported is called when a host turns out to use an API that cannot be hooked.
	OnUnsupported func(p model.Process, api present.API)
}

type procState struct {
	process    model.Process
	state      model.AttachmentState
	attempt    int
	busy       bool
	session    Session
	attachedAt time.Time
	history    []model.TransitionRecord
}

// Supervisor runs the attach state machine for every process identity.
//
// RequestAttach blocks through retries and backoff and must be called from a
// background goroutine, never from a render thread.
type Supervisor struct {
	attacher  Attacher
	blacklist Blacklist
	recorder  Recorder
	clock     clockz.Clock
	logger    *slog.Logger
	wait      func(ctx context.Context, d time.Duration) error

	maxAttempts   int
	backoff       []time.Duration
	crashWindow   time.Duration
	historyLimit  int
	onUnsupported func(model.Process, present.API)

	mu     sync.Mutex
	procs  map[string]*procState
	closed bool
	done   chan struct{}
}

// New creates a supervisor.
func New(opts Options) *Supervisor {
	if opts.Clock == nil {
		opts.Clock = clockz.RealClock
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if len(opts.Backoff) == 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.CrashWindow <= 0 {
		opts.CrashWindow = DefaultCrashWindow
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}

	s := &Supervisor{
		attacher:      opts.Attacher,
		blacklist:     opts.Blacklist,
		recorder:      opts.Recorder,
		clock:         opts.Clock,
		logger:        opts.Logger.With("component", "supervisor"),
		maxAttempts:   opts.MaxAttempts,
		backoff:       opts.Backoff,
		crashWindow:   opts.CrashWindow,
		historyLimit:  opts.HistoryLimit,
		onUnsupported: opts.OnUnsupported,
		procs:         make(map[string]*procState),
		done:          make(chan struct{}),
	}
	s.wait = opts.Wait
	if s.wait == nil {
		s.wait = s.sleep
	}
	return s
}

// LoadBlacklist marks every persisted identity as blacklisted so it shows up
// in snapshots before any attach is requested.
func (s *Supervisor) LoadBlacklist(ctx context.Context) error {
	if s.blacklist == nil {
		return nil
	}
	entries, err := s.blacklist.List(ctx)
	if err != nil {
		return fmt.Errorf("load blacklist: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		st := s.procLocked(model.Process{Name: e.Process})
		st.state = model.StateBlacklisted
	}
	return nil
}

// RequestAttach attaches to p, retrying failed installs with backoff.
// A blacklisted identity is rejected without calling the attacher.
func (s *Supervisor) RequestAttach(ctx context.Context, p model.Process) error {
	id := p.Identity()
	if id == "" {
		return errors.New("supervisor: empty process name")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	st := s.procLocked(p)
	if st.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	if st.state == model.StateAttached {
		s.mu.Unlock()
		return nil
	}
	st.process = p
	st.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		st.busy = false
		s.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.wait(ctx, s.delayBefore(attempt)); err != nil {
				s.move(id, model.StateDetached, model.ReasonCanceled, attempt-1, err)
				return err
			}
		}

		blocked, err := s.isBlacklisted(ctx, id)
		if err != nil {
			return err
		}
		if blocked {
			if s.State(id) != model.StateBlacklisted {
				s.move(id, model.StateBlacklisted, model.ReasonBlacklisted, attempt-1, nil)
			}
			return fmt.Errorf("%w: %s", ErrBlacklisted, id)
		}

		reason := model.ReasonRequested
		if attempt > 1 {
			reason = model.ReasonRetry
		}
		s.move(id, model.StateAttaching, reason, attempt, nil)

		session, err := s.attacher.Attach(ctx, p)
		if err == nil {
			return s.commitAttach(id, st, session, attempt)
		}

		var unsupported *present.UnsupportedError
		if errors.As(err, &unsupported) {
			s.move(id, model.StateBlacklisted, model.ReasonUnsupportedAPI, attempt, err)
			s.recordPermanent(ctx, id, model.ReasonUnsupportedAPI)
			if s.onUnsupported != nil {
				s.onUnsupported(p, unsupported.API)
			}
			return fmt.Errorf("%w: %w", ErrUnsupportedAPI, err)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			s.move(id, model.StateDetached, model.ReasonCanceled, attempt, err)
			return ctxErr
		}

		lastErr = err
		s.move(id, model.StateFailing, model.ReasonInstallFailed, attempt, err)
	}

	s.move(id, model.StateBlacklisted, model.ReasonRetriesExhausted, s.maxAttempts, lastErr)
	s.recordPermanent(ctx, id, model.ReasonRetriesExhausted)
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.maxAttempts, lastErr)
}

// commitAttach publishes a freshly installed session. If Shutdown ran while
// the install was in flight the session is removed again at once, so no hook
// outlives the supervisor.
func (s *Supervisor) commitAttach(id string, st *procState, session Session, attempt int) error {
	s.mu.Lock()
	if !s.closed {
		st.session = session
		st.attachedAt = s.clock.Now()
		rec := s.moveLocked(id, model.StateAttached, model.ReasonInstalled, attempt, nil)
		s.mu.Unlock()
		s.report(rec)
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := s.clock.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var derr error
	if session != nil {
		derr = session.Detach(ctx)
	}
	s.move(id, model.StateDetached, model.ReasonShutdown, attempt, derr)
	if derr != nil {
		s.logger.Warn("detach of late install failed", "process", id, "err", derr)
	}
	return ErrClosed
}

// NotifyTerminated tells the supervisor that the host process exited.
// An exit within the crash window of a successful attach blacklists the
// identity; a later exit simply detaches.
func (s *Supervisor) NotifyTerminated(name string) {
	id := model.NormalizeName(name)

	s.mu.Lock()
	st, ok := s.procs[id]
	if !ok || st.state != model.StateAttached {
		s.mu.Unlock()
		return
	}
	session := st.session
	st.session = nil
	elapsed := s.clock.Now().Sub(st.attachedAt)
	attempt := st.attempt
	s.mu.Unlock()

	if session != nil {
		ctx, cancel := s.clock.WithTimeout(context.Background(), time.Second)
		if err := session.Detach(ctx); err != nil {
			s.logger.Warn("detach after host exit failed", "process", id, "err", err)
		}
		cancel()
	}

	if elapsed <= s.crashWindow {
		err := fmt.Errorf("host exited %s after attach", elapsed)
		s.move(id, model.StateFailing, model.ReasonCrashNearInjected, attempt, err)
		s.move(id, model.StateBlacklisted, model.ReasonCrashNearInjected, attempt, err)
		s.recordPermanent(context.Background(), id, model.ReasonCrashNearInjected)
		return
	}
	s.move(id, model.StateDetached, model.ReasonHostTerminated, attempt, nil)
}

// Detach removes the hook from an attached process.
func (s *Supervisor) Detach(ctx context.Context, name string) error {
	return s.detach(ctx, model.NormalizeName(name), model.ReasonRequested)
}

// Unblacklist removes name from the blacklist so it may be attached again.
func (s *Supervisor) Unblacklist(ctx context.Context, name string) error {
	id := model.NormalizeName(name)
	if s.blacklist != nil {
		if _, err := s.blacklist.Remove(ctx, id); err != nil {
			return fmt.Errorf("remove %s from blacklist: %w", id, err)
		}
	}
	if s.State(id) == model.StateBlacklisted {
		s.move(id, model.StateDetached, model.ReasonUserOverride, 0, nil)
	}
	return nil
}

// State returns the current state of a process identity.
func (s *Supervisor) State(name string) model.AttachmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.procs[model.NormalizeName(name)]; ok {
		return st.state
	}
	return model.StateDetached
}

// Snapshot maps every known process identity to its state.
func (s *Supervisor) Snapshot() map[string]model.AttachmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.AttachmentState, len(s.procs))
	for id, st := range s.procs {
		out[id] = st.state
	}
	return out
}

// History returns the recorded transitions of one process, oldest first.
func (s *Supervisor) History(name string) []model.TransitionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.procs[model.NormalizeName(name)]
	if !ok {
		return nil
	}
	return append([]model.TransitionRecord(nil), st.history...)
}

// Failures returns up to limit of the newest transitions into Failing or
// Blacklisted across all processes, oldest first.
func (s *Supervisor) Failures(limit int) []model.TransitionRecord {
	s.mu.Lock()
	var out []model.TransitionRecord
	for _, st := range s.procs {
		for _, rec := range st.history {
			if rec.To == model.StateFailing || rec.To == model.StateBlacklisted {
				out = append(out, rec)
			}
		}
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Shutdown detaches every attached process and rejects further requests.
// Pending backoff waits are interrupted. Calling it again is a no-op.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	var attached []string
	for id, st := range s.procs {
		if st.state == model.StateAttached {
			attached = append(attached, id)
		}
	}
	s.mu.Unlock()

	sort.Strings(attached)
	var errs []error
	for _, id := range attached {
		if err := s.detach(ctx, id, model.ReasonShutdown); err != nil && !errors.Is(err, ErrNotAttached) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) detach(ctx context.Context, id string, reason model.Reason) error {
	s.mu.Lock()
	st, ok := s.procs[id]
	if !ok || st.state != model.StateAttached {
		s.mu.Unlock()
		return ErrNotAttached
	}
	session := st.session
	st.session = nil
	attempt := st.attempt
	s.mu.Unlock()

	var err error
	if session != nil {
		err = session.Detach(ctx)
	}
	s.move(id, model.StateDetached, reason, attempt, err)
	if err != nil {
		return fmt.Errorf("detach %s: %w", id, err)
	}
	return nil
}

func (s *Supervisor) delayBefore(attempt int) time.Duration {
	i := attempt - 2
	if i >= len(s.backoff) {
		i = len(s.backoff) - 1
	}
	return s.backoff[i]
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Supervisor) isBlacklisted(ctx context.Context, id string) (bool, error) {
	if s.blacklist == nil {
		return s.State(id) == model.StateBlacklisted, nil
	}
	blocked, err := s.blacklist.IsBlacklisted(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check blacklist for %s: %w", id, err)
	}
	return blocked, nil
}

func (s *Supervisor) recordPermanent(ctx context.Context, id string, reason model.Reason) {
	if s.blacklist == nil {
		return
	}
	if err := s.blacklist.RecordPermanentFailure(ctx, id, reason); err != nil {
		s.logger.Error("failed to persist blacklist entry", "process", id, "reason", reason, "err", err)
	}
}

// procLocked returns the state for p, creating it. Requires s.mu.
func (s *Supervisor) procLocked(p model.Process) *procState {
	id := p.Identity()
	st, ok := s.procs[id]
	if !ok {
		st = &procState{process: p, state: model.StateDetached}
		s.procs[id] = st
	}
	return st
}

// move performs a transition and reports it.
func (s *Supervisor) move(id string, to model.AttachmentState, reason model.Reason, attempt int, cause error) {
	s.mu.Lock()
	rec := s.moveLocked(id, to, reason, attempt, cause)
	s.mu.Unlock()
	s.report(rec)
}

// moveLocked applies a transition. Requires s.mu.
func (s *Supervisor) moveLocked(id string, to model.AttachmentState, reason model.Reason, attempt int, cause error) model.TransitionRecord {
	st, ok := s.procs[id]
	if !ok {
		st = &procState{process: model.Process{Name: id}}
		s.procs[id] = st
	}
	rec := model.TransitionRecord{
		Time:    s.clock.Now(),
		Context: "attach",
		Process: id,
		PID:     st.process.PID,
		Attempt: attempt,
		From:    st.state,
		To:      to,
		Reason:  reason,
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	st.state = to
	st.attempt = attempt
	st.history = append(st.history, rec)
	if over := len(st.history) - s.historyLimit; over > 0 {
		st.history = append(st.history[:0:0], st.history[over:]...)
	}
	return rec
}

func (s *Supervisor) report(rec model.TransitionRecord) {
	if s.recorder != nil {
		s.recorder.Transition(rec)
		return
	}
	s.logger.Info("attach transition", "process", rec.Process, "attempt", rec.Attempt, "from", rec.From, "to", rec.To, "reason", rec.Reason)
}
