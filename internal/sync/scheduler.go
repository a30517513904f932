package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shoeboxhq/shoebox-go/internal/netmon"
)

// TriggerReason labels why a drain started, for logs and the status surface.
type TriggerReason string

// Drain triggers.
const (
	TriggerStartup   TriggerReason = "startup"
	TriggerReconnect TriggerReason = "reconnect"
	TriggerWake      TriggerReason = "wake"
	TriggerRetry     TriggerReason = "retry"
	TriggerManual    TriggerReason = "manual"
)

// DrainFunc runs one drain pass. Implemented by (*Engine).Drain.
type DrainFunc func(ctx context.Context) (DrainReport, error)

// SchedulerConfig holds the collaborators for a Scheduler.
type SchedulerConfig struct {
	Drain   DrainFunc
	Session SessionSource
	Monitor Monitor
	Logger  *slog.Logger
	Paused  bool // initial pause state from config
}

// Scheduler owns the decision of when drains run: on startup, on
// connectivity regain, on wake, on an explicit trigger, and on a backoff
// timer after failures. All of its state is per-instance — constructed once
// per session, torn down with Close — so overlapping triggers collapse
// through the single-flight guard instead of racing through globals.
type Scheduler struct {
	drain   DrainFunc
	session SessionSource
	monitor Monitor
	logger  *slog.Logger

	// afterFunc arms the retry timer; injectable so tests capture delays
	// instead of sleeping through them.
	afterFunc func(d time.Duration, fn func()) *time.Timer

	mu       sync.Mutex
	syncing  bool // single-flight guard
	paused   bool
	closed   bool
	attempts int // consecutive failed drains since the last clean one
	timer    *time.Timer
	timerGen uint64 // invalidates canceled timers that already fired
	retryAt  time.Time
	unsub    func()
}

// NewScheduler creates a Scheduler. It does nothing until Run.
func NewScheduler(cfg *SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		drain:     cfg.Drain,
		session:   cfg.Session,
		monitor:   cfg.Monitor,
		logger:    logger,
		afterFunc: time.AfterFunc,
		paused:    cfg.Paused,
	}
}

// Run subscribes to connectivity events and fires the startup trigger when
// a session exists and the API is reachable. It returns immediately; drains
// run on the goroutines that deliver their triggers.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.unsub = s.monitor.Subscribe(func(ev netmon.Event) {
		switch ev.Kind {
		case netmon.Online:
			s.Trigger(ctx, TriggerReconnect)
		case netmon.Wake:
			s.Trigger(ctx, TriggerWake)
		case netmon.Offline:
			// Nothing to do: the engine's gate already skips offline
			// drains, and the armed timer stays — the retry drain will
			// no-op cheaply if connectivity is still down when it fires.
		}
	})
	s.mu.Unlock()

	if s.session.Authenticated() && s.monitor.Online() {
		s.Trigger(ctx, TriggerStartup)
	}
}

// Trigger requests a drain. If one is already in flight, or the scheduler
// is paused or closed, the request is dropped — never queued. A manual or
// external trigger supersedes any armed retry timer.
func (s *Scheduler) Trigger(ctx context.Context, reason TriggerReason) {
	s.mu.Lock()

	if s.closed || s.paused {
		s.mu.Unlock()
		s.logger.Debug("trigger dropped", slog.String("reason", string(reason)),
			slog.Bool("paused", s.paused))

		return
	}

	if s.syncing {
		s.mu.Unlock()
		s.logger.Debug("trigger dropped: drain in flight", slog.String("reason", string(reason)))

		return
	}

	s.syncing = true
	// The running drain supersedes any armed retry. attempts carries over:
	// the ladder resets only when a drain completes clean, so an external
	// trigger that fails again does not restart the backoff from scratch.
	s.cancelTimerLocked()
	s.mu.Unlock()

	s.logger.Info("drain triggered", slog.String("reason", string(reason)))

	report, err := s.runDrain(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.syncing = false

	if s.closed {
		return
	}

	if err == nil && report.Clean() {
		s.attempts = 0
		s.cancelTimerLocked()

		return
	}

	if err != nil {
		s.logger.Warn("drain failed", slog.String("error", err.Error()))
	}

	s.armRetryLocked(ctx)
}

// runDrain invokes the drain with panic containment so the single-flight
// guard is always released and a broken drain degrades into backoff instead
// of crashing the daemon.
func (s *Scheduler) runDrain(ctx context.Context) (report DrainReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("drain panicked", slog.Any("panic", r))
			report = DrainReport{Failed: 1}
		}
	}()

	return s.drain(ctx)
}

// armRetryLocked arms the backoff timer for the next automatic retry, or
// goes quiet once the attempt budget is spent. Caller holds s.mu.
func (s *Scheduler) armRetryLocked(ctx context.Context) {
	if s.attempts >= maxAttempts {
		s.logger.Warn("retry budget exhausted, waiting for external trigger",
			slog.Int("attempts", s.attempts))
		s.retryAt = time.Time{}

		return
	}

	delay := nextDelay(s.attempts)
	s.attempts++

	s.cancelTimerLocked()

	gen := s.timerGen
	s.retryAt = time.Now().Add(delay)

	s.timer = s.afterFunc(delay, func() {
		s.mu.Lock()
		stale := gen != s.timerGen || s.closed
		s.mu.Unlock()

		if stale {
			return
		}

		s.Trigger(ctx, TriggerRetry)
	})

	s.logger.Info("retry armed",
		slog.Duration("delay", delay),
		slog.Int("attempt", s.attempts),
	)
}

// cancelTimerLocked stops any armed retry timer and invalidates callbacks
// already in flight. Caller holds s.mu.
func (s *Scheduler) cancelTimerLocked() {
	s.timerGen++
	s.retryAt = time.Time{}

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// SetPaused flips the pause switch. Pausing cancels any armed retry;
// resuming does not trigger by itself — callers pair it with Trigger.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paused = paused

	if paused {
		s.cancelTimerLocked()
	}
}

// Snapshot is the scheduler state exposed to the status surface.
type Snapshot struct {
	Syncing  bool      `json:"syncing"`
	Paused   bool      `json:"paused"`
	Attempts int       `json:"attempts"`
	RetryAt  time.Time `json:"retry_at,omitzero"`
}

// Snapshot returns the current scheduler state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		Syncing:  s.syncing,
		Paused:   s.paused,
		Attempts: s.attempts,
		RetryAt:  s.retryAt,
	}
}

// Close cancels any armed timer and unsubscribes from connectivity events.
// Idempotent. A drain already in flight finishes; its outcome arms nothing.
func (s *Scheduler) Close() {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return
	}

	s.closed = true
	s.cancelTimerLocked()
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}
