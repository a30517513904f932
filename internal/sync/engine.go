package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shoeboxhq/shoebox-go/internal/api"
	"github.com/shoeboxhq/shoebox-go/internal/broadcast"
	"github.com/shoeboxhq/shoebox-go/internal/entity"
	"github.com/shoeboxhq/shoebox-go/internal/store"
)

// drainBatchLimit bounds how many pending items one fetch loads. A drain
// keeps fetching batches past the last seen ID until the queue is empty, so
// the limit caps memory per fetch, not the size of a pass.
const drainBatchLimit = 500

// ErrSessionExpired aborts a drain when the API rejects the token mid-pass.
// The in-flight item is released without an attempt bump — the failure is
// the session's fault, not the mutation's.
var ErrSessionExpired = errors.New("sync: session expired during drain")

// EngineConfig holds the collaborators for an Engine.
type EngineConfig struct {
	Queue    QueueStore
	Remote   Remote
	Session  SessionSource
	Monitor  Monitor
	Notifier Notifier // optional
	Owner    string   // lease owner identity, unique per process
	LeaseTTL time.Duration
	Logger   *slog.Logger
}

// Engine drains the mutation queue against the remote API. Safe to call
// Drain repeatedly; each call is one complete pass. The engine itself holds
// no cross-drain state — single-flight and backoff live in the Scheduler.
type Engine struct {
	queue    QueueStore
	remote   Remote
	session  SessionSource
	monitor  Monitor
	notifier Notifier
	owner    string
	leaseTTL time.Duration
	logger   *slog.Logger
	nowFunc  func() time.Time // injectable for deterministic tests
}

// NewEngine creates an Engine from its collaborators.
func NewEngine(cfg *EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		queue:    cfg.Queue,
		remote:   cfg.Remote,
		session:  cfg.Session,
		monitor:  cfg.Monitor,
		notifier: cfg.Notifier,
		owner:    cfg.Owner,
		leaseTTL: cfg.LeaseTTL,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// entityKey identifies an entity across queue items for same-entity
// ordering within a drain.
type entityKey struct {
	kind entity.Kind
	id   string
}

// Drain runs one complete pass over the pending queue in insertion order.
//
// If no session exists or connectivity is down it returns a zero report
// immediately without touching any item — a skipped cycle, not a failure.
// Item failures never abort the pass: the item returns to pending (or moves
// to terminal failed) and later items for other entities still drain. Only
// three things abort a pass early: a session rejection (ErrSessionExpired),
// a canceled drain context, and a panic out of the remote dispatch; all
// release the in-flight item without counting an attempt and surface as the
// returned error, which the scheduler treats like a failed drain.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport

	if !e.session.Authenticated() {
		e.logger.Debug("drain skipped: not logged in")
		return report, nil
	}

	if !e.monitor.Online() {
		e.logger.Debug("drain skipped: offline")
		return report, nil
	}

	if _, err := e.queue.ReclaimExpired(ctx); err != nil {
		return report, fmt.Errorf("sync: reclaiming leases: %w", err)
	}

	// Entities whose earlier item failed this pass. Later items for the
	// same entity are skipped, preserving per-entity causality (an update
	// must never outrun the create it depends on). The map spans all
	// batches of the pass.
	blocked := make(map[entityKey]bool)

	started := false
	cursor := int64(0)

	for {
		// Fetching past the last seen ID keeps the loop finite: items
		// released back to pending keep their old IDs and wait for the
		// next pass instead of being picked up again.
		items, err := e.queue.PendingBatch(ctx, cursor, drainBatchLimit)
		if err != nil {
			e.finishDrain(ctx, report)
			return report, fmt.Errorf("sync: loading pending items: %w", err)
		}

		if len(items) == 0 {
			break
		}

		if !started {
			started = true
			e.logger.Info("drain started", slog.Int("pending", len(items)))
		}

		for i := range items {
			item := &items[i]
			key := entityKey{kind: item.Kind, id: item.EntityID}

			if blocked[key] {
				continue
			}

			claimed, err := e.queue.Claim(ctx, item.ID, e.owner, e.leaseExpiry())
			if err != nil {
				e.finishDrain(ctx, report)
				return report, fmt.Errorf("sync: claiming item %d: %w", item.ID, err)
			}

			if !claimed {
				// Lost the race to a concurrent process, or an earlier sibling
				// exists. Either way this entity is not ours this pass.
				blocked[key] = true
				continue
			}

			failed, err := e.applyItem(ctx, item, &report)
			if err != nil {
				e.finishDrain(ctx, report)
				return report, err
			}

			if failed {
				blocked[key] = true
			}
		}

		cursor = items[len(items)-1].ID
	}

	if !started {
		return report, nil
	}

	e.finishDrain(ctx, report)

	e.logger.Info("drain finished",
		slog.Int("succeeded", report.Succeeded),
		slog.Int("failed", report.Failed),
		slog.Int("removed", report.Removed),
	)

	return report, nil
}

// applyItem dispatches one claimed item and records its outcome. failed
// reports whether this item failed (its entity blocks for the rest of the
// pass). A non-nil error aborts the whole drain (session loss, dispatch
// panic, or the store itself failing); per-item remote failures are folded
// into the report and return a nil error.
func (e *Engine) applyItem(ctx context.Context, item *store.QueueItem, report *DrainReport) (failed bool, _ error) {
	err := e.dispatch(ctx, item)

	switch {
	case err == nil:
		if completeErr := e.completeItem(ctx, item); completeErr != nil {
			return false, completeErr
		}

		report.Succeeded++
		report.Removed++

	case errors.Is(err, api.ErrUnauthorized):
		// The session died, not the mutation. Put the item back untouched
		// and abort: every further dispatch would fail the same way.
		if relErr := e.queue.Release(ctx, item.ID, err.Error(), false); relErr != nil {
			e.logger.Error("releasing item after auth failure",
				slog.Int64("item_id", item.ID), slog.String("error", relErr.Error()))
		}

		return false, fmt.Errorf("%w: %s", ErrSessionExpired, err.Error())

	case ctx.Err() != nil:
		// The drain itself was torn down (shutdown, opportunistic-drain
		// deadline). The mutation is fine; put it back without an attempt
		// bump. The write must outlive the dead context or the item would
		// stay leased until the lease expires.
		if relErr := e.queue.Release(context.WithoutCancel(ctx), item.ID, err.Error(), false); relErr != nil {
			e.logger.Error("releasing item after drain cancellation",
				slog.Int64("item_id", item.ID), slog.String("error", relErr.Error()))
		}

		return false, fmt.Errorf("sync: drain canceled: %w", ctx.Err())

	case api.IsRetryable(err):
		e.logger.Warn("item failed, will retry",
			slog.Int64("item_id", item.ID),
			slog.String("kind", item.Kind.String()),
			slog.String("op", item.Op.String()),
			slog.String("error", err.Error()),
		)

		if relErr := e.queue.Release(ctx, item.ID, err.Error(), true); relErr != nil {
			return false, fmt.Errorf("sync: releasing item %d: %w", item.ID, relErr)
		}

		report.Failed++

		return true, nil

	default:
		// Deterministic rejection: retrying the same payload cannot help.
		// Park it for operator action instead of burning retry budget.
		e.logger.Warn("item rejected permanently",
			slog.Int64("item_id", item.ID),
			slog.String("kind", item.Kind.String()),
			slog.String("op", item.Op.String()),
			slog.String("error", err.Error()),
		)

		if failErr := e.queue.Fail(ctx, item.ID, err.Error()); failErr != nil {
			return false, fmt.Errorf("sync: failing item %d: %w", item.ID, failErr)
		}

		report.Failed++

		return true, nil
	}

	return false, nil
}

// dispatch invokes the remote with panic recovery. A panic in the remote
// path releases the item without an attempt bump and aborts the drain.
func (e *Engine) dispatch(ctx context.Context, item *store.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic applying queue item",
				slog.Int64("item_id", item.ID),
				slog.Any("panic", r),
			)

			if relErr := e.queue.Release(ctx, item.ID, fmt.Sprintf("panic: %v", r), false); relErr != nil {
				e.logger.Error("releasing item after panic",
					slog.Int64("item_id", item.ID), slog.String("error", relErr.Error()))
			}

			err = fmt.Errorf("sync: panic applying item %d: %v", item.ID, r)
		}
	}()

	return e.remote.Apply(ctx, item)
}

// completeItem removes a drained item and updates local bookkeeping: the
// entity's synced flag flips for creates/updates, and the matching
// invalidation hint goes out to sibling processes.
func (e *Engine) completeItem(ctx context.Context, item *store.QueueItem) error {
	if err := e.queue.Complete(ctx, item.ID); err != nil {
		return fmt.Errorf("sync: completing item %d: %w", item.ID, err)
	}

	if item.Op != entity.OpDelete {
		if err := e.queue.MarkSynced(ctx, item.Kind, item.EntityID); err != nil {
			// The mutation is already applied remotely; losing the flag
			// costs a redundant re-sync display, not correctness.
			e.logger.Warn("marking entity synced failed",
				slog.String("entity_id", item.EntityID), slog.String("error", err.Error()))
		}
	}

	e.publish(ctx, entityMessage(item))

	return nil
}

// finishDrain publishes the batch-level completion hint when the pass
// removed anything.
func (e *Engine) finishDrain(ctx context.Context, report DrainReport) {
	if report.Removed > 0 {
		e.publish(ctx, broadcast.Message{Type: broadcast.TypeSyncCompleted})
	}
}

// publish sends an invalidation hint. Best-effort: failures are logged by
// the broadcaster and never fail the drain.
func (e *Engine) publish(ctx context.Context, msg broadcast.Message) {
	if e.notifier == nil {
		return
	}

	if err := e.notifier.Publish(ctx, msg); err != nil {
		e.logger.Warn("publishing broadcast failed",
			slog.String("type", msg.Type), slog.String("error", err.Error()))
	}
}

// entityMessage maps a completed queue item to its invalidation hint.
func entityMessage(item *store.QueueItem) broadcast.Message {
	switch item.Op {
	case entity.OpCreate:
		return broadcast.EntityCreated(item.Kind, item.EntityID)
	case entity.OpDelete:
		return broadcast.EntityDeleted(item.Kind, item.EntityID)
	default:
		return broadcast.EntityUpdated(item.Kind, item.EntityID)
	}
}

// leaseExpiry returns the lease deadline for a claim made now.
func (e *Engine) leaseExpiry() int64 {
	return e.nowFunc().Add(e.leaseTTL).UnixNano()
}
