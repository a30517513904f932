package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/netmon"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

// fakeQueue is an in-memory QueueStore mirroring the store's state machine.
type fakeQueue struct {
	mu     sync.Mutex
	items  []*store.QueueItem
	synced []string // "kind/id" marked synced
}

func (q *fakeQueue) add(kind entity.Kind, id string, op entity.Op) *store.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := &store.QueueItem{
		ID:       int64(len(q.items) + 1),
		Kind:     kind,
		EntityID: id,
		Op:       op,
		Status:   store.StatusPending,
	}
	q.items = append(q.items, item)

	return item
}

func (q *fakeQueue) get(id int64) *store.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}

	return nil
}

func (q *fakeQueue) ReclaimExpired(context.Context) (int64, error) { return 0, nil }

func (q *fakeQueue) PendingBatch(_ context.Context, afterID int64, limit int) ([]store.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []store.QueueItem

	for _, item := range q.items {
		if item.Status == store.StatusPending && item.ID > afterID && len(out) < limit {
			out = append(out, *item)
		}
	}

	return out, nil
}

func (q *fakeQueue) Claim(_ context.Context, id int64, owner string, lease int64) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var target *store.QueueItem

	for _, item := range q.items {
		if item.ID == id {
			target = item
			break
		}
	}

	if target == nil || target.Status != store.StatusPending {
		return false, nil
	}

	// Same guard as the SQL claim: no inflight sibling, no earlier
	// pending/failed sibling.
	for _, item := range q.items {
		if item.Kind != target.Kind || item.EntityID != target.EntityID {
			continue
		}

		if item.Status == store.StatusInflight {
			return false, nil
		}

		if item.ID < id && (item.Status == store.StatusPending || item.Status == store.StatusFailed) {
			return false, nil
		}
	}

	target.Status = store.StatusInflight
	target.LeaseOwner = owner
	target.LeaseExpiresAt = lease

	return true, nil
}

func (q *fakeQueue) Complete(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ID == id && item.Status == store.StatusInflight {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}

	return fmt.Errorf("item %d: %w", id, store.ErrNotFound)
}

func (q *fakeQueue) Release(_ context.Context, id int64, errMsg string, bump bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id && item.Status == store.StatusInflight {
			item.Status = store.StatusPending
			item.LastError = errMsg
			item.LeaseOwner = ""
			item.LeaseExpiresAt = 0

			if bump {
				item.Attempts++
			}

			return nil
		}
	}

	return fmt.Errorf("item %d: %w", id, store.ErrNotFound)
}

func (q *fakeQueue) Fail(_ context.Context, id int64, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.ID == id && item.Status == store.StatusInflight {
			item.Status = store.StatusFailed
			item.LastError = errMsg
			item.Attempts++

			return nil
		}
	}

	return fmt.Errorf("item %d: %w", id, store.ErrNotFound)
}

func (q *fakeQueue) MarkSynced(_ context.Context, kind entity.Kind, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.synced = append(q.synced, kind.String()+"/"+id)

	return nil
}

// fakeRemote scripts per-entity outcomes and records apply order.
type fakeRemote struct {
	mu       sync.Mutex
	errs     map[string]error // keyed by entityID; nil entry = success
	applied  []string
	panicOn  string
	cancelOn string             // simulate the caller tearing down mid-dispatch
	cancel   context.CancelFunc // invoked when cancelOn matches
}

func (r *fakeRemote) Apply(_ context.Context, item *store.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.applied = append(r.applied, item.EntityID)

	if item.EntityID == r.panicOn {
		panic("remote blew up")
	}

	if item.EntityID == r.cancelOn && r.cancel != nil {
		r.cancel()
		return fmt.Errorf("write: connection reset by peer")
	}

	return r.errs[item.EntityID]
}

func (r *fakeRemote) appliedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.applied...)
}

type fakeSession struct{ authed bool }

func (s *fakeSession) Authenticated() bool { return s.authed }

type fakeMonitor struct{ online bool }

func (m *fakeMonitor) Online() bool { return m.online }

func (m *fakeMonitor) Subscribe(func(netmon.Event)) func() { return func() {} }

// fakeNotifier records published messages.
type fakeNotifier struct {
	mu   sync.Mutex
	msgs []broadcast.Message
}

func (n *fakeNotifier) Publish(_ context.Context, msg broadcast.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.msgs = append(n.msgs, msg)

	return nil
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]string, len(n.msgs))
	for i, m := range n.msgs {
		out[i] = m.Type
	}

	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestEngine(q *fakeQueue, r *fakeRemote, session *fakeSession, monitor *fakeMonitor, n Notifier) *Engine {
	return NewEngine(&EngineConfig{
		Queue:    q,
		Remote:   r,
		Session:  session,
		Monitor:  monitor,
		Notifier: n,
		Owner:    "test-owner",
		LeaseTTL: time.Minute,
		Logger:   discardLogger(),
	})
}

func apiError(status int) error {
	return &api.APIError{StatusCode: status, Err: api.ErrServerError}
}

func TestDrain_OfflineShortCircuits(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	item := q.add(entity.KindReceipt, "r-1", entity.OpCreate)

	r := &fakeRemote{}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: false}, nil)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{}, report)
	assert.Empty(t, r.appliedIDs())
	assert.Equal(t, int64(0), item.Attempts, "a skipped cycle must not count as an attempt")
	assert.Equal(t, store.StatusPending, item.Status)
}

func TestDrain_UnauthenticatedShortCircuits(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)

	r := &fakeRemote{}
	e := newTestEngine(q, r, &fakeSession{authed: false}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{}, report)
	assert.Empty(t, r.appliedIDs())
}

func TestDrain_EmptyQueueIsClean(t *testing.T) {
	t.Parallel()

	e := newTestEngine(&fakeQueue{}, &fakeRemote{}, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestDrain_MixedOutcomes(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)
	q.add(entity.KindDevice, "d-1", entity.OpCreate)
	q.add(entity.KindDevice, "d-2", entity.OpUpdate)

	r := &fakeRemote{errs: map[string]error{
		"d-1": apiError(503),
		"d-2": apiError(502),
	}}

	n := &fakeNotifier{}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, n)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Succeeded: 1, Failed: 2, Removed: 1}, report)

	// Failed items returned to pending with attempts bumped.
	assert.Equal(t, store.StatusPending, q.get(2).Status)
	assert.Equal(t, int64(1), q.get(2).Attempts)
	assert.Equal(t, store.StatusPending, q.get(3).Status)

	// The success removed its item and announced itself.
	assert.Nil(t, q.get(1))
	assert.Equal(t, []string{broadcast.TypeEntityCreated, broadcast.TypeSyncCompleted}, n.types())
}

func TestDrain_FailureBlocksLaterSiblings(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)
	q.add(entity.KindReceipt, "r-1", entity.OpUpdate)
	q.add(entity.KindReceipt, "r-2", entity.OpCreate)

	r := &fakeRemote{errs: map[string]error{"r-1": apiError(500)}}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)

	// The update for r-1 never reached the remote: its create failed first.
	assert.Equal(t, []string{"r-1", "r-2"}, r.appliedIDs())
	assert.Equal(t, DrainReport{Succeeded: 1, Failed: 1, Removed: 1}, report)

	// Only the attempted item's counter moved.
	assert.Equal(t, int64(1), q.get(1).Attempts)
	assert.Equal(t, int64(0), q.get(2).Attempts)
}

func TestDrain_TerminalRejectionParksItem(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)

	r := &fakeRemote{errs: map[string]error{
		"r-1": &api.APIError{StatusCode: 422, Err: api.ErrUnprocessable, Message: "vendor required"},
	}}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Failed: 1}, report)
	assert.Equal(t, store.StatusFailed, q.get(1).Status)

	// A second drain must not pick the terminal item up again.
	report, err = e.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DrainReport{}, report)
	assert.Len(t, r.appliedIDs(), 1)
}

func TestDrain_UnauthorizedAbortsWithoutAttemptBump(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)
	q.add(entity.KindDevice, "d-1", entity.OpCreate)

	r := &fakeRemote{errs: map[string]error{
		"r-1": &api.APIError{StatusCode: 401, Err: api.ErrUnauthorized},
	}}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(context.Background())
	require.ErrorIs(t, err, ErrSessionExpired)

	assert.Equal(t, DrainReport{}, report)

	// The item went back untouched and the rest of the batch never ran.
	assert.Equal(t, store.StatusPending, q.get(1).Status)
	assert.Equal(t, int64(0), q.get(1).Attempts)
	assert.Equal(t, []string{"r-1"}, r.appliedIDs())
}

func TestDrain_PanicReleasesItemAndAborts(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)
	q.add(entity.KindReceipt, "r-2", entity.OpCreate)

	r := &fakeRemote{panicOn: "r-1"}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(context.Background())
	require.Error(t, err)

	assert.Equal(t, DrainReport{}, report)
	assert.Equal(t, store.StatusPending, q.get(1).Status)
	assert.Equal(t, int64(0), q.get(1).Attempts)
	assert.Equal(t, []string{"r-1"}, r.appliedIDs(), "remaining items untouched after abort")
}

func TestDrain_DeleteDoesNotMarkSynced(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindDevice, "d-1", entity.OpDelete)

	n := &fakeNotifier{}
	e := newTestEngine(q, &fakeRemote{}, &fakeSession{authed: true}, &fakeMonitor{online: true}, n)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Succeeded: 1, Removed: 1}, report)
	assert.Empty(t, q.synced, "deleted entities have no row to flag")
	assert.Equal(t, []string{broadcast.TypeEntityDeleted, broadcast.TypeSyncCompleted}, n.types())
}

func TestDrain_SecondPassDrainsReleasedItems(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)
	q.add(entity.KindDevice, "d-1", entity.OpCreate)
	q.add(entity.KindDevice, "d-2", entity.OpCreate)

	r := &fakeRemote{errs: map[string]error{
		"d-1": apiError(503),
		"d-2": apiError(503),
	}}

	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)
	ctx := context.Background()

	report, err := e.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainReport{Succeeded: 1, Failed: 2, Removed: 1}, report)

	// The outage clears; the retry drain finishes the remainder.
	r.mu.Lock()
	r.errs = nil
	r.mu.Unlock()

	report, err = e.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, DrainReport{Succeeded: 2, Failed: 0, Removed: 2}, report)
}

func TestDrain_CallerCancellationReleasesWithoutAttemptBump(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindReceipt, "r-1", entity.OpCreate)
	q.add(entity.KindReceipt, "r-2", entity.OpCreate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &fakeRemote{cancelOn: "r-1", cancel: cancel}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, DrainReport{}, report)

	// Shutdown mid-dispatch is the drain's fault, not the mutation's: the
	// item must go back to pending untouched, never parked as terminal.
	assert.Equal(t, store.StatusPending, q.get(1).Status)
	assert.Equal(t, int64(0), q.get(1).Attempts)
	assert.Equal(t, []string{"r-1"}, r.appliedIDs(), "remaining items untouched after abort")
}

func TestDrain_QueueLargerThanOneBatchDrainsFully(t *testing.T) {
	t.Parallel()

	q := &fakeQueue{}
	q.add(entity.KindDevice, "d-flaky", entity.OpCreate)

	total := drainBatchLimit + 25
	for i := 0; i < total; i++ {
		q.add(entity.KindReceipt, fmt.Sprintf("r-%d", i), entity.OpCreate)
	}

	// The failing entity's follow-up sits past the first batch boundary;
	// the per-entity block must carry across batches.
	follower := q.add(entity.KindDevice, "d-flaky", entity.OpUpdate)

	r := &fakeRemote{errs: map[string]error{"d-flaky": apiError(503)}}
	e := newTestEngine(q, r, &fakeSession{authed: true}, &fakeMonitor{online: true}, nil)

	report, err := e.Drain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DrainReport{Succeeded: total, Failed: 1, Removed: total}, report,
		"one pass drains every pending item, not just the first batch")
	assert.Len(t, r.appliedIDs(), total+1)

	assert.Equal(t, store.StatusPending, follower.Status)
	assert.Equal(t, int64(0), follower.Attempts)
}
