package store

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shoeboxhq/shoebox-go/internal/entity"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

// newTestStore creates a Store backed by a temp directory, registering
// cleanup with t.Cleanup.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(dbPath, testLogger(t))
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close(): %v", err)
		}
	})

	return s
}

// enqueue is a shorthand that fails the test on error.
func enqueue(t *testing.T, s *Store, kind entity.Kind, id string, op entity.Op, payload string) int64 {
	t.Helper()

	itemID, err := s.Enqueue(context.Background(), kind, id, op, []byte(payload))
	if err != nil {
		t.Fatalf("Enqueue(%s %s %s): %v", kind, id, op, err)
	}

	return itemID
}

// futureLease returns a lease expiry comfortably in the future.
func futureLease() int64 {
	return time.Now().Add(2 * time.Minute).UnixNano()
}

func TestEnqueue_AppendsInInsertionOrder(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{"id":"r-1"}`)
	enqueue(t, s, entity.KindDevice, "d-1", entity.OpCreate, `{"id":"d-1"}`)
	enqueue(t, s, entity.KindReceipt, "r-2", entity.OpCreate, `{"id":"r-2"}`)

	batch, err := s.PendingBatch(ctx, 0, 10)
	if err != nil {
		t.Fatalf("PendingBatch: %v", err)
	}

	if len(batch) != 3 {
		t.Fatalf("pending batch has %d items, want 3", len(batch))
	}

	wantIDs := []string{"r-1", "d-1", "r-2"}
	for i, want := range wantIDs {
		if batch[i].EntityID != want {
			t.Errorf("batch[%d].EntityID = %q, want %q", i, batch[i].EntityID, want)
		}

		if i > 0 && batch[i].ID <= batch[i-1].ID {
			t.Errorf("batch ids not strictly increasing: %d then %d", batch[i-1].ID, batch[i].ID)
		}
	}
}

func TestPendingBatch_PagesPastAfterID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"r-1", "r-2", "r-3", "r-4", "r-5"} {
		enqueue(t, s, entity.KindReceipt, id, entity.OpCreate, `{}`)
	}

	first, err := s.PendingBatch(ctx, 0, 3)
	if err != nil {
		t.Fatalf("PendingBatch: %v", err)
	}

	if len(first) != 3 {
		t.Fatalf("first page has %d items, want 3", len(first))
	}

	rest, err := s.PendingBatch(ctx, first[len(first)-1].ID, 3)
	if err != nil {
		t.Fatalf("PendingBatch: %v", err)
	}

	if len(rest) != 2 {
		t.Fatalf("second page has %d items, want 2", len(rest))
	}

	if rest[0].ID <= first[len(first)-1].ID {
		t.Errorf("second page starts at id %d, want above %d", rest[0].ID, first[len(first)-1].ID)
	}
}

func TestEnqueue_UpdateCoalescesIntoPendingCreate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	createID := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{"vendor":"old"}`)
	coalescedID := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpUpdate, `{"vendor":"new"}`)

	if coalescedID != createID {
		t.Errorf("coalesced id = %d, want the pending create's id %d", coalescedID, createID)
	}

	batch, err := s.PendingBatch(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(batch) != 1 {
		t.Fatalf("pending batch has %d items, want 1 (coalesced)", len(batch))
	}

	if batch[0].Op != entity.OpCreate {
		t.Errorf("coalesced op = %q, want create (create still owed to server)", batch[0].Op)
	}

	if string(batch[0].Payload) != `{"vendor":"new"}` {
		t.Errorf("coalesced payload = %s, want the newer snapshot", batch[0].Payload)
	}
}

func TestEnqueue_UpdateCoalescesIntoPendingUpdate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, entity.KindDevice, "d-1", entity.OpUpdate, `{"name":"one"}`)
	enqueue(t, s, entity.KindDevice, "d-1", entity.OpUpdate, `{"name":"two"}`)

	batch, err := s.PendingBatch(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(batch) != 1 {
		t.Fatalf("pending batch has %d items, want 1", len(batch))
	}

	if string(batch[0].Payload) != `{"name":"two"}` {
		t.Errorf("payload = %s, want latest snapshot", batch[0].Payload)
	}
}

func TestEnqueue_DeleteCancelsPendingCreate(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{"id":"r-1"}`)
	enqueue(t, s, entity.KindReceipt, "r-1", entity.OpUpdate, `{"id":"r-1","note":"x"}`)

	deleteID := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpDelete, `{"id":"r-1"}`)
	if deleteID != 0 {
		t.Errorf("delete after pending create queued item %d, want annihilation (0)", deleteID)
	}

	counts, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if counts.Total() != 0 {
		t.Errorf("queue holds %d items after create+delete annihilation, want 0", counts.Total())
	}
}

func TestEnqueue_DeleteSupersedesPendingUpdates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// No pending create: the entity already exists server-side.
	enqueue(t, s, entity.KindDevice, "d-1", entity.OpUpdate, `{"name":"renamed"}`)
	deleteID := enqueue(t, s, entity.KindDevice, "d-1", entity.OpDelete, `{"id":"d-1"}`)

	if deleteID == 0 {
		t.Fatal("delete was annihilated despite no pending create")
	}

	batch, err := s.PendingBatch(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(batch) != 1 || batch[0].Op != entity.OpDelete {
		t.Fatalf("queue = %+v, want exactly the delete", batch)
	}
}

func TestEnqueue_InflightNeverCoalesced(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	createID := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{"v":1}`)

	claimed, err := s.Claim(ctx, createID, "proc-a", futureLease())
	if err != nil || !claimed {
		t.Fatalf("Claim = (%v, %v), want (true, nil)", claimed, err)
	}

	// The create is being applied right now; a new update must append,
	// not mutate the in-flight payload.
	updateID := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpUpdate, `{"v":2}`)
	if updateID == createID {
		t.Fatal("update coalesced into an in-flight item")
	}

	items, err := s.ListQueueItems(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(items) != 2 {
		t.Fatalf("queue holds %d items, want 2", len(items))
	}

	if string(items[0].Payload) != `{"v":1}` {
		t.Errorf("in-flight payload mutated to %s", items[0].Payload)
	}
}

func TestClaim_CompleteRemovesRow(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{}`)

	claimed, err := s.Claim(ctx, id, "proc-a", futureLease())
	if err != nil || !claimed {
		t.Fatalf("Claim = (%v, %v), want (true, nil)", claimed, err)
	}

	if err := s.Complete(ctx, id); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	counts, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if counts.Total() != 0 {
		t.Errorf("queue holds %d items after completion, want 0 (done rows are deleted)", counts.Total())
	}
}

func TestClaim_SameEntityOrderingGuard(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	// Two mutations for the same entity that cannot coalesce: an update
	// chain interrupted by a claimed item. Simulate with create then,
	// after claiming it, a follow-up update.
	first := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{"v":1}`)

	claimed, err := s.Claim(ctx, first, "proc-a", futureLease())
	if err != nil || !claimed {
		t.Fatalf("Claim(first) = (%v, %v)", claimed, err)
	}

	second := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpUpdate, `{"v":2}`)

	// While the first is in flight, the second must be unclaimable.
	claimed, err = s.Claim(ctx, second, "proc-b", futureLease())
	if err != nil {
		t.Fatal(err)
	}

	if claimed {
		t.Fatal("claimed a second in-flight item for the same entity")
	}

	if err := s.Complete(ctx, first); err != nil {
		t.Fatal(err)
	}

	claimed, err = s.Claim(ctx, second, "proc-b", futureLease())
	if err != nil {
		t.Fatal(err)
	}

	if !claimed {
		t.Fatal("second item unclaimable after first completed")
	}
}

func TestClaim_RaceLosesCleanly(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id := enqueue(t, s, entity.KindDevice, "d-1", entity.OpCreate, `{}`)

	claimed, err := s.Claim(ctx, id, "proc-a", futureLease())
	if err != nil || !claimed {
		t.Fatalf("first Claim = (%v, %v)", claimed, err)
	}

	claimed, err = s.Claim(ctx, id, "proc-b", futureLease())
	if err != nil {
		t.Fatalf("second Claim errored: %v", err)
	}

	if claimed {
		t.Fatal("second Claim succeeded on an already-claimed item")
	}
}

func TestRelease_ReturnsToPendingAndCountsAttempt(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{}`)

	if claimed, err := s.Claim(ctx, id, "proc-a", futureLease()); err != nil || !claimed {
		t.Fatalf("Claim = (%v, %v)", claimed, err)
	}

	if err := s.Release(ctx, id, "503 from server", true); err != nil {
		t.Fatalf("Release: %v", err)
	}

	items, err := s.ListQueueItems(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(items) != 1 {
		t.Fatalf("queue holds %d items, want 1", len(items))
	}

	item := items[0]
	if item.Status != StatusPending {
		t.Errorf("status = %q, want pending", item.Status)
	}

	if item.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", item.Attempts)
	}

	if item.LastError != "503 from server" {
		t.Errorf("last error = %q", item.LastError)
	}

	if item.LeaseOwner != "" || item.LeaseExpiresAt != 0 {
		t.Errorf("lease not cleared: owner=%q expires=%d", item.LeaseOwner, item.LeaseExpiresAt)
	}

	// Release without attempt bump (session-expiry abort path).
	if claimed, err := s.Claim(ctx, id, "proc-a", futureLease()); err != nil || !claimed {
		t.Fatalf("re-Claim = (%v, %v)", claimed, err)
	}

	if err := s.Release(ctx, id, "", false); err != nil {
		t.Fatal(err)
	}

	items, err = s.ListQueueItems(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if items[0].Attempts != 1 {
		t.Errorf("attempts after unbumped release = %d, want still 1", items[0].Attempts)
	}
}

func TestFail_TerminalLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{}`)

	if claimed, err := s.Claim(ctx, id, "proc-a", futureLease()); err != nil || !claimed {
		t.Fatalf("Claim = (%v, %v)", claimed, err)
	}

	if err := s.Fail(ctx, id, "422 validation rejected"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	// Terminal items never show up in drain batches.
	batch, err := s.PendingBatch(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(batch) != 0 {
		t.Fatalf("pending batch contains terminal item: %+v", batch)
	}

	// A later mutation for the same entity stays blocked behind the
	// failed item until the operator resolves it.
	laterID := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpUpdate, `{"v":2}`)

	claimed, err := s.Claim(ctx, laterID, "proc-a", futureLease())
	if err != nil {
		t.Fatal(err)
	}

	if claimed {
		t.Fatal("claimed an item ordered after an unresolved terminal failure for the same entity")
	}

	// Retry returns the failed item to pending and unblocks the chain.
	if err := s.RetryFailed(ctx, id); err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}

	counts, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if counts.Failed != 0 || counts.Pending != 2 {
		t.Errorf("counts after retry = %+v, want 2 pending / 0 failed", counts)
	}
}

func TestDiscardFailed(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id := enqueue(t, s, entity.KindDevice, "d-1", entity.OpUpdate, `{}`)

	if claimed, err := s.Claim(ctx, id, "proc-a", futureLease()); err != nil || !claimed {
		t.Fatalf("Claim = (%v, %v)", claimed, err)
	}

	if err := s.Fail(ctx, id, "403"); err != nil {
		t.Fatal(err)
	}

	if err := s.DiscardFailed(ctx, id); err != nil {
		t.Fatalf("DiscardFailed: %v", err)
	}

	counts, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if counts.Total() != 0 {
		t.Errorf("queue holds %d items after discard, want 0", counts.Total())
	}

	// Discarding a non-failed (absent) item reports ErrNotFound.
	if err := s.DiscardFailed(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second discard = %v, want ErrNotFound", err)
	}
}

func TestReclaimExpired(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	id := enqueue(t, s, entity.KindReceipt, "r-1", entity.OpCreate, `{}`)

	// Lease already expired: simulates a process that died mid-drain.
	expired := time.Now().Add(-time.Minute).UnixNano()
	if claimed, err := s.Claim(ctx, id, "dead-proc", expired); err != nil || !claimed {
		t.Fatalf("Claim = (%v, %v)", claimed, err)
	}

	reclaimed, err := s.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("ReclaimExpired: %v", err)
	}

	if reclaimed != 1 {
		t.Fatalf("reclaimed %d items, want 1", reclaimed)
	}

	claimed, err := s.Claim(ctx, id, "proc-b", futureLease())
	if err != nil {
		t.Fatal(err)
	}

	if !claimed {
		t.Fatal("reclaimed item not claimable")
	}

	// Live leases are left alone.
	if _, err := s.ReclaimExpired(ctx); err != nil {
		t.Fatal(err)
	}

	counts, err := s.QueueCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if counts.Inflight != 1 {
		t.Errorf("live in-flight item disturbed: counts = %+v", counts)
	}
}
