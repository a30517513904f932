// Package sync implements the offline mutation drain: the engine that
// applies queued local mutations against the remote API in insertion order,
// and the scheduler that decides when drains run (startup, reconnect, wake,
// retry backoff) under a single-flight guard.
package sync

import (
	"context"

	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/netmon"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

// QueueStore is the slice of the durable store the engine drains.
// Implemented by *store.Store.
type QueueStore interface {
	ReclaimExpired(ctx context.Context) (int64, error)
	PendingBatch(ctx context.Context, afterID int64, limit int) ([]store.QueueItem, error)
	Claim(ctx context.Context, id int64, owner string, leaseExpiresAt int64) (bool, error)
	Complete(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64, errMsg string, bumpAttempts bool) error
	Fail(ctx context.Context, id int64, errMsg string) error
	MarkSynced(ctx context.Context, kind entity.Kind, id string) error
}

// Remote applies one queued mutation against the API. The CLI layer wires
// the concrete implementation over the API client; tests inject fakes.
// Returned errors are classified with api.IsRetryable and api.ErrUnauthorized.
type Remote interface {
	Apply(ctx context.Context, item *store.QueueItem) error
}

// SessionSource reports whether an authenticated session exists. The engine
// gates every drain on it; it never blocks.
type SessionSource interface {
	Authenticated() bool
}

// Monitor is the connectivity view the engine and scheduler consume.
// Implemented by *netmon.Monitor.
type Monitor interface {
	Online() bool
	Subscribe(fn func(netmon.Event)) func()
}

// Notifier publishes cross-process invalidation hints after successful
// mutations. Implemented by *broadcast.Broadcaster; a nil Notifier is
// permitted for one-shot CLI runs that have nothing to notify.
type Notifier interface {
	Publish(ctx context.Context, msg broadcast.Message) error
}

// DrainReport is the aggregate outcome of one drain pass. Removed counts
// items deleted from the queue; with the current lifecycle (success is the
// only removal path) it tracks Succeeded, but the two are distinct in the
// contract.
type DrainReport struct {
	Succeeded int
	Failed    int
	Removed   int
}

// Clean reports whether the drain finished without any item failing.
func (r DrainReport) Clean() bool {
	return r.Failed == 0
}
