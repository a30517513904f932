package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoeboxhq/shoebox-go/internal/netmon"
)

// timerCapture replaces the scheduler's afterFunc: it records armed delays
// and lets tests fire the callback by hand instead of sleeping.
type timerCapture struct {
	mu     sync.Mutex
	delays []time.Duration
	fns    []func()
}

func (tc *timerCapture) afterFunc(d time.Duration, fn func()) *time.Timer {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.delays = append(tc.delays, d)
	tc.fns = append(tc.fns, fn)

	// Inert real timer so cancelTimerLocked has something to Stop.
	return time.AfterFunc(time.Hour, func() {})
}

func (tc *timerCapture) armed() []time.Duration {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	return append([]time.Duration(nil), tc.delays...)
}

// fireLast invokes the most recently armed callback synchronously.
func (tc *timerCapture) fireLast(t *testing.T) {
	t.Helper()

	tc.mu.Lock()
	require.NotEmpty(t, tc.fns, "no timer armed")
	fn := tc.fns[len(tc.fns)-1]
	tc.mu.Unlock()

	fn()
}

// scriptedDrain returns scripted reports in sequence, then repeats the last.
type scriptedDrain struct {
	mu      sync.Mutex
	reports []DrainReport
	errs    []error
	calls   int
	block   chan struct{} // non-nil: drain waits here, for overlap tests
	started chan struct{}
}

func (d *scriptedDrain) drain(context.Context) (DrainReport, error) {
	d.mu.Lock()
	idx := d.calls
	d.calls++

	if idx >= len(d.reports) {
		idx = len(d.reports) - 1
	}

	report := d.reports[idx]

	var err error
	if idx < len(d.errs) {
		err = d.errs[idx]
	}

	block := d.block
	started := d.started
	d.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}

	if block != nil {
		<-block
	}

	return report, err
}

func (d *scriptedDrain) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.calls
}

// stubMonitor satisfies Monitor with fixed state and manual event delivery.
type stubMonitor struct {
	mu     sync.Mutex
	online bool
	subs   []func(netmon.Event)
}

func (m *stubMonitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

func (m *stubMonitor) Subscribe(fn func(netmon.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subs = append(m.subs, fn)

	return func() {}
}

func (m *stubMonitor) emit(kind netmon.EventKind) {
	m.mu.Lock()
	fns := append([]func(netmon.Event){}, m.subs...)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(netmon.Event{Kind: kind, At: time.Now()})
	}
}

func newTestScheduler(drain DrainFunc, monitor Monitor, authed bool) (*Scheduler, *timerCapture) {
	tc := &timerCapture{}

	s := NewScheduler(&SchedulerConfig{
		Drain:   drain,
		Session: &fakeSession{authed: authed},
		Monitor: monitor,
		Logger:  discardLogger(),
	})
	s.afterFunc = tc.afterFunc

	return s, tc
}

func TestScheduler_CleanDrainArmsNothing(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{Succeeded: 2, Removed: 2}}}
	s, tc := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	s.Trigger(context.Background(), TriggerManual)

	assert.Equal(t, 1, d.callCount())
	assert.Empty(t, tc.armed())
	assert.Equal(t, 0, s.Snapshot().Attempts)
}

func TestScheduler_SingleFlight(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{
		reports: []DrainReport{{Succeeded: 1, Removed: 1}},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	s, _ := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	ctx := context.Background()

	go s.Trigger(ctx, TriggerManual)
	<-d.started

	// Concurrent triggers while a drain is in flight collapse to no-ops.
	s.Trigger(ctx, TriggerReconnect)
	s.Trigger(ctx, TriggerWake)

	close(d.block)

	require.Eventually(t, func() bool { return !s.Snapshot().Syncing },
		time.Second, time.Millisecond)

	assert.Equal(t, 1, d.callCount(), "exactly one drain for overlapping triggers")
}

func TestScheduler_BackoffLadder(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{Failed: 1}}}
	s, tc := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	ctx := context.Background()
	s.Trigger(ctx, TriggerManual)

	// Each fired retry fails again, escalating the delay.
	for range maxAttempts - 1 {
		tc.fireLast(t)
	}

	assert.Equal(t, []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
	}, tc.armed())

	// Budget spent: the last retry fails and nothing more is armed.
	tc.fireLast(t)
	assert.Len(t, tc.armed(), maxAttempts)
	assert.Equal(t, maxAttempts+1, d.callCount(), "initial drain plus one per armed retry")
}

func TestScheduler_ExternalTriggerAfterExhaustion(t *testing.T) {
	t.Parallel()

	// Initial drain, maxAttempts retries, and one post-exhaustion reconnect
	// all fail; the final scripted call succeeds.
	reports := make([]DrainReport, maxAttempts+2)
	for i := range reports {
		reports[i] = DrainReport{Failed: 1}
	}

	reports = append(reports, DrainReport{Succeeded: 1, Removed: 1})

	d := &scriptedDrain{reports: reports}
	s, tc := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	ctx := context.Background()
	s.Trigger(ctx, TriggerManual)

	for range maxAttempts {
		tc.fireLast(t)
	}

	armedBefore := len(tc.armed())
	require.Equal(t, maxAttempts, armedBefore, "no timer past the attempt budget")

	// A reconnect still drains, but a failing drain arms nothing new.
	s.Trigger(ctx, TriggerReconnect)
	assert.Len(t, tc.armed(), armedBefore)
	assert.Equal(t, maxAttempts, s.Snapshot().Attempts)

	// Only a fully clean drain resets the ladder.
	s.Trigger(ctx, TriggerReconnect)
	assert.Equal(t, 0, s.Snapshot().Attempts)
}

func TestScheduler_DrainErrorCountsAsFailure(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{
		reports: []DrainReport{{}},
		errs:    []error{errors.New("store unavailable")},
	}
	s, tc := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	s.Trigger(context.Background(), TriggerManual)

	assert.Equal(t, []time.Duration{5 * time.Second}, tc.armed())
	assert.Equal(t, 1, s.Snapshot().Attempts)
}

func TestScheduler_PanicReleasesGuardAndArmsRetry(t *testing.T) {
	t.Parallel()

	panicking := func(context.Context) (DrainReport, error) {
		panic("engine bug")
	}

	s, tc := newTestScheduler(panicking, &stubMonitor{online: true}, true)
	defer s.Close()

	s.Trigger(context.Background(), TriggerManual)

	snap := s.Snapshot()
	assert.False(t, snap.Syncing, "single-flight guard released after panic")
	assert.Equal(t, []time.Duration{5 * time.Second}, tc.armed())
}

func TestScheduler_RunFiresStartupTriggerWhenReady(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{}}}
	s, _ := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	s.Run(context.Background())

	assert.Equal(t, 1, d.callCount())
}

func TestScheduler_RunSkipsStartupWhenOfflineOrLoggedOut(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{}}}

	offline, _ := newTestScheduler(d.drain, &stubMonitor{online: false}, true)
	offline.Run(context.Background())
	offline.Close()

	loggedOut, _ := newTestScheduler(d.drain, &stubMonitor{online: true}, false)
	loggedOut.Run(context.Background())
	loggedOut.Close()

	assert.Equal(t, 0, d.callCount())
}

func TestScheduler_ReconnectEventTriggersDrain(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{}}}
	monitor := &stubMonitor{online: false}

	s, _ := newTestScheduler(d.drain, monitor, true)
	defer s.Close()

	s.Run(context.Background())
	require.Equal(t, 0, d.callCount())

	monitor.mu.Lock()
	monitor.online = true
	monitor.mu.Unlock()

	monitor.emit(netmon.Online)
	assert.Equal(t, 1, d.callCount())

	monitor.emit(netmon.Wake)
	assert.Equal(t, 2, d.callCount())
}

func TestScheduler_ManualTriggerSupersedesArmedRetry(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{Failed: 1}, {Succeeded: 1, Removed: 1}}}
	s, tc := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	ctx := context.Background()

	s.Trigger(ctx, TriggerManual)
	require.Len(t, tc.armed(), 1)

	// Manual trigger cancels the pending retry; the stale callback firing
	// afterward must not start another drain.
	s.Trigger(ctx, TriggerManual)
	assert.Equal(t, 2, d.callCount())

	tc.fireLast(t)
	assert.Equal(t, 2, d.callCount(), "stale timer callback is a no-op")
}

func TestScheduler_PausedDropsTriggers(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{}}}
	s, _ := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	s.SetPaused(true)
	s.Trigger(context.Background(), TriggerManual)
	assert.Equal(t, 0, d.callCount())

	s.SetPaused(false)
	s.Trigger(context.Background(), TriggerManual)
	assert.Equal(t, 1, d.callCount())
}

func TestScheduler_PauseCancelsArmedRetry(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{Failed: 1}}}
	s, tc := newTestScheduler(d.drain, &stubMonitor{online: true}, true)
	defer s.Close()

	s.Trigger(context.Background(), TriggerManual)
	require.Len(t, tc.armed(), 1)
	require.False(t, s.Snapshot().RetryAt.IsZero())

	s.SetPaused(true)
	assert.True(t, s.Snapshot().RetryAt.IsZero())

	tc.fireLast(t)
	assert.Equal(t, 1, d.callCount(), "canceled retry must not drain")
}

func TestScheduler_CloseCancelsTimerAndDropsTriggers(t *testing.T) {
	t.Parallel()

	d := &scriptedDrain{reports: []DrainReport{{Failed: 1}}}
	s, tc := newTestScheduler(d.drain, &stubMonitor{online: true}, true)

	ctx := context.Background()
	s.Trigger(ctx, TriggerManual)
	require.Len(t, tc.armed(), 1)

	s.Close()
	s.Close() // idempotent

	tc.fireLast(t)
	s.Trigger(ctx, TriggerManual)

	assert.Equal(t, 1, d.callCount())
}
