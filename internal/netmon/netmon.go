// Package netmon watches connectivity toward the sync API by probing its
// health endpoint on an interval. Subscribers receive transition events
// (offline to online, online to offline) and wake hints after the host
// returns from suspend; steady states are never re-announced.
package netmon

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventKind identifies a connectivity transition.
type EventKind string

// Connectivity transitions delivered to subscribers.
const (
	// Online fires when a probe succeeds after the monitor was offline.
	Online EventKind = "online"
	// Offline fires when a probe fails after the monitor was online.
	Offline EventKind = "offline"
	// Wake fires after the host returns from suspend while online. It is a
	// hint to act now rather than wait out the probe interval.
	Wake EventKind = "wake"
)

// Event is one connectivity transition.
type Event struct {
	Kind EventKind
	At   time.Time
}

// wakeGapFactor: a probe tick arriving this many intervals late means the
// process was suspended rather than merely scheduled late.
const wakeGapFactor = 3

// ProbeFunc checks API reachability. A nil error means online.
type ProbeFunc func(ctx context.Context) error

// Monitor tracks connectivity state and fans out transition events. The
// zero value is not usable; construct with New.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable for deterministic tests

	mu       sync.Mutex
	online   bool
	probed   bool // first probe completed; Online is meaningful
	lastTick time.Time
	subs     map[int]func(Event)
	nextSub  int

	wakeCh chan struct{}
}

// New creates a Monitor that calls probe every interval once Run starts.
func New(probe ProbeFunc, interval time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
		nowFunc:  time.Now,
		subs:     make(map[int]func(Event)),
		wakeCh:   make(chan struct{}, 1),
	}
}

// Online returns the last probed connectivity state. Before the first probe
// completes it returns false: callers gate work on connectivity, and "not
// yet known" must not start work that assumes a reachable API.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.probed && m.online
}

// Subscribe registers fn for every transition event. fn runs on the
// monitor's goroutine and must return quickly. The returned function
// removes the subscription; calling it more than once is harmless.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// NotifyWake injects an external wake hint (the daemon forwards SIGCONT
// here). The monitor re-probes and, if online, emits a Wake event.
func (m *Monitor) NotifyWake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}

// Run probes until ctx is canceled. The first probe happens synchronously
// before the loop starts so Online reflects reality as soon as Run is
// entered by callers that start it in a goroutine after a short handshake,
// and startup triggers do not race an unknown state.
func (m *Monitor) Run(ctx context.Context) error {
	m.probeOnce(ctx)

	m.mu.Lock()
	m.lastTick = m.nowFunc()
	m.mu.Unlock()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			m.handleTick(ctx)

		case <-m.wakeCh:
			m.handleWake(ctx)
		}
	}
}

// handleTick runs the periodic probe and detects suspend by tick gap: a
// tick arriving far later than the interval means the clock kept moving
// while the process did not.
func (m *Monitor) handleTick(ctx context.Context) {
	now := m.nowFunc()

	m.mu.Lock()
	gap := now.Sub(m.lastTick)
	m.lastTick = now
	m.mu.Unlock()

	if gap > wakeGapFactor*m.interval {
		m.logger.Info("suspend gap detected",
			slog.Duration("gap", gap),
			slog.Duration("interval", m.interval),
		)
		m.handleWake(ctx)

		return
	}

	m.probeOnce(ctx)
}

// handleWake re-probes and emits Wake if the host came back online (or
// still is). An offline wake-up emits nothing: the Online transition will
// fire once connectivity actually returns.
func (m *Monitor) handleWake(ctx context.Context) {
	m.probeOnce(ctx)

	if m.Online() {
		m.emit(Event{Kind: Wake, At: m.nowFunc()})
	}
}

// probeOnce performs one probe and emits a transition event when the state
// flipped.
func (m *Monitor) probeOnce(ctx context.Context) {
	err := m.probe(ctx)
	nowOnline := err == nil

	m.mu.Lock()
	wasProbed := m.probed
	wasOnline := m.online
	m.probed = true
	m.online = nowOnline
	m.mu.Unlock()

	if wasProbed && wasOnline == nowOnline {
		return
	}

	if nowOnline {
		m.logger.Info("connectivity restored")
		m.emit(Event{Kind: Online, At: m.nowFunc()})

		return
	}

	if err != nil {
		m.logger.Info("connectivity lost", slog.String("error", err.Error()))
	}

	m.emit(Event{Kind: Offline, At: m.nowFunc()})
}

// emit delivers an event to every subscriber.
func (m *Monitor) emit(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
