package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shoeboxhq/shoebox-go/internal/entity"
)

// SQL statements for queue operations.
const (
	sqlInsertQueueItem = `INSERT INTO queue_items
		(entity_kind, entity_id, op, payload, attempts, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 'pending', ?, ?)`

	sqlCoalesceUpdatePayload = `UPDATE queue_items
		SET payload = ?, updated_at = ?
		WHERE entity_kind = ? AND entity_id = ? AND status = 'pending'
		  AND op IN ('create', 'update')`

	sqlSelectPendingCreate = `SELECT id FROM queue_items
		WHERE entity_kind = ? AND entity_id = ? AND status = 'pending' AND op = 'create'
		LIMIT 1`

	sqlDeletePendingForEntity = `DELETE FROM queue_items
		WHERE entity_kind = ? AND entity_id = ? AND status = 'pending'`

	sqlSelectPendingBatch = `SELECT id, entity_kind, entity_id, op, payload, attempts,
		status, last_error, lease_owner, lease_expires_at, created_at, updated_at
		FROM queue_items WHERE status = 'pending' AND id > ? ORDER BY id LIMIT ?`

	// Claim guard: the claim succeeds only when this item is still pending,
	// no sibling item for the same entity is in flight, and no earlier
	// pending or failed sibling precedes it. This enforces per-entity
	// ordering and the one-in-flight-per-entity invariant across every
	// process sharing the database.
	sqlClaimQueueItem = `UPDATE queue_items
		SET status = 'inflight', lease_owner = ?, lease_expires_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
		  AND NOT EXISTS (
			SELECT 1 FROM queue_items q
			WHERE q.entity_kind = queue_items.entity_kind
			  AND q.entity_id = queue_items.entity_id
			  AND (q.status = 'inflight'
				OR (q.status IN ('pending', 'failed') AND q.id < queue_items.id))
		  )`

	sqlCompleteQueueItem = `DELETE FROM queue_items WHERE id = ? AND status = 'inflight'`

	sqlReleaseQueueItem = `UPDATE queue_items
		SET status = 'pending', attempts = attempts + ?, last_error = ?,
		    lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'inflight'`

	sqlFailQueueItem = `UPDATE queue_items
		SET status = 'failed', attempts = attempts + 1, last_error = ?,
		    lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'inflight'`

	sqlReclaimExpired = `UPDATE queue_items
		SET status = 'pending', lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE status = 'inflight' AND lease_expires_at IS NOT NULL AND lease_expires_at < ?`

	sqlRetryFailedItem = `UPDATE queue_items
		SET status = 'pending', last_error = NULL, updated_at = ?
		WHERE id = ? AND status = 'failed'`

	sqlDiscardFailedItem = `DELETE FROM queue_items WHERE id = ? AND status = 'failed'`

	sqlQueueCounts = `SELECT status, COUNT(*) FROM queue_items GROUP BY status`

	sqlListQueueItems = `SELECT id, entity_kind, entity_id, op, payload, attempts,
		status, last_error, lease_owner, lease_expires_at, created_at, updated_at
		FROM queue_items ORDER BY id`
)

// ErrNotFound is returned by queue operations that target a specific item
// which is absent or no longer in the expected state.
var ErrNotFound = errors.New("store: not found")

// Enqueue appends a mutation to the queue, applying the coalescing rules:
//
//   - An update for an entity that still has a pending create or update
//     replaces that item's payload in place instead of appending.
//   - A delete for an entity with a pending create cancels the pending
//     items outright — the server never saw the entity, so nothing drains.
//   - A delete also drops any pending updates it supersedes before being
//     appended.
//
// In-flight and failed items are never touched by coalescing. The returned
// id is 0 when a delete annihilated a pending create (nothing was queued).
func (s *Store) Enqueue(ctx context.Context, kind entity.Kind, entityID string, op entity.Op, payload []byte) (int64, error) {
	now := s.nowNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: beginning enqueue: %w", err)
	}
	defer tx.Rollback()

	var id int64

	switch op {
	case entity.OpUpdate:
		id, err = s.enqueueUpdate(ctx, tx, kind, entityID, payload, now)
	case entity.OpDelete:
		id, err = s.enqueueDelete(ctx, tx, kind, entityID, payload, now)
	default:
		id, err = insertQueueItem(ctx, tx, kind, entityID, op, payload, now)
	}

	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: committing enqueue: %w", err)
	}

	s.logger.Debug("mutation enqueued",
		slog.String("kind", kind.String()),
		slog.String("entity_id", entityID),
		slog.String("op", op.String()),
		slog.Int64("item_id", id),
	)

	return id, nil
}

// enqueueUpdate coalesces into a pending create/update when one exists,
// otherwise appends a new update item.
func (s *Store) enqueueUpdate(ctx context.Context, tx *sql.Tx, kind entity.Kind, entityID string, payload []byte, now int64) (int64, error) {
	res, err := tx.ExecContext(ctx, sqlCoalesceUpdatePayload, payload, now, kind.String(), entityID)
	if err != nil {
		return 0, fmt.Errorf("store: coalescing update: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: coalescing update: %w", err)
	}

	if affected > 0 {
		var id int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM queue_items WHERE entity_kind = ? AND entity_id = ? AND status = 'pending' ORDER BY id LIMIT 1`,
			kind.String(), entityID).Scan(&id)
		if err != nil {
			return 0, fmt.Errorf("store: locating coalesced item: %w", err)
		}

		return id, nil
	}

	return insertQueueItem(ctx, tx, kind, entityID, entity.OpUpdate, payload, now)
}

// enqueueDelete cancels a still-pending create (and everything coalesced
// onto it) instead of queueing a delete the server could never apply.
// Otherwise it drops superseded pending updates and appends the delete.
func (s *Store) enqueueDelete(ctx context.Context, tx *sql.Tx, kind entity.Kind, entityID string, payload []byte, now int64) (int64, error) {
	var createID int64

	err := tx.QueryRowContext(ctx, sqlSelectPendingCreate, kind.String(), entityID).Scan(&createID)
	hasPendingCreate := err == nil

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("store: checking pending create: %w", err)
	}

	if _, err := tx.ExecContext(ctx, sqlDeletePendingForEntity, kind.String(), entityID); err != nil {
		return 0, fmt.Errorf("store: dropping superseded items: %w", err)
	}

	if hasPendingCreate {
		// Create and delete annihilate: the server never saw this entity.
		return 0, nil
	}

	return insertQueueItem(ctx, tx, kind, entityID, entity.OpDelete, payload, now)
}

func insertQueueItem(ctx context.Context, tx *sql.Tx, kind entity.Kind, entityID string, op entity.Op, payload []byte, now int64) (int64, error) {
	res, err := tx.ExecContext(ctx, sqlInsertQueueItem, kind.String(), entityID, op.String(), payload, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: inserting queue item: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: inserting queue item: %w", err)
	}

	return id, nil
}

// PendingBatch returns up to limit pending items with IDs above afterID, in
// insertion order. Callers page through the queue by passing the last ID of
// the previous batch. The snapshot is advisory: Claim revalidates
// eligibility atomically, so a concurrent drain in another process at worst
// causes a skipped claim.
func (s *Store) PendingBatch(ctx context.Context, afterID int64, limit int) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectPendingBatch, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: loading pending batch: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// Claim atomically moves a pending item to in-flight under a lease.
// It returns false when the item lost eligibility since the snapshot:
// already claimed elsewhere, blocked by an earlier sibling for the same
// entity, or no longer pending.
func (s *Store) Claim(ctx context.Context, id int64, owner string, leaseExpiresAt int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqlClaimQueueItem, owner, leaseExpiresAt, s.nowNano(), id)
	if err != nil {
		return false, fmt.Errorf("store: claiming item %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: claiming item %d: %w", id, err)
	}

	return affected > 0, nil
}

// Complete removes a successfully applied item from the queue.
func (s *Store) Complete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, sqlCompleteQueueItem, id)
	if err != nil {
		return fmt.Errorf("store: completing item %d: %w", id, err)
	}

	return requireOneRow(res, id)
}

// Release returns an in-flight item to pending after a retryable failure,
// recording the error and incrementing its attempt count. bumpAttempts
// false releases without counting (used when the drain aborts for reasons
// that are not the item's fault, like an expired session).
func (s *Store) Release(ctx context.Context, id int64, errMsg string, bumpAttempts bool) error {
	bump := int64(0)
	if bumpAttempts {
		bump = 1
	}

	res, err := s.db.ExecContext(ctx, sqlReleaseQueueItem, bump, nullString(errMsg), s.nowNano(), id)
	if err != nil {
		return fmt.Errorf("store: releasing item %d: %w", id, err)
	}

	return requireOneRow(res, id)
}

// Fail marks an in-flight item terminally failed. It stays visible for
// operator action (retry/discard) but no drain will pick it up.
func (s *Store) Fail(ctx context.Context, id int64, errMsg string) error {
	res, err := s.db.ExecContext(ctx, sqlFailQueueItem, nullString(errMsg), s.nowNano(), id)
	if err != nil {
		return fmt.Errorf("store: failing item %d: %w", id, err)
	}

	return requireOneRow(res, id)
}

// ReclaimExpired returns in-flight items with expired leases to pending.
// Those leases belong to processes that died mid-drain; a live process
// refreshes nothing because drains finish well inside the lease TTL.
func (s *Store) ReclaimExpired(ctx context.Context) (int64, error) {
	now := s.nowNano()

	res, err := s.db.ExecContext(ctx, sqlReclaimExpired, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: reclaiming expired leases: %w", err)
	}

	reclaimed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: reclaiming expired leases: %w", err)
	}

	if reclaimed > 0 {
		s.logger.Warn("reclaimed expired queue leases", slog.Int64("count", reclaimed))
	}

	return reclaimed, nil
}

// RetryFailed returns a terminally failed item to pending so the next
// drain attempts it again.
func (s *Store) RetryFailed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, sqlRetryFailedItem, s.nowNano(), id)
	if err != nil {
		return fmt.Errorf("store: retrying item %d: %w", id, err)
	}

	return requireOneRow(res, id)
}

// DiscardFailed permanently drops a terminally failed item. The local
// entity row keeps its unsynced state; the user chose to abandon the
// server-side mutation.
func (s *Store) DiscardFailed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, sqlDiscardFailedItem, id)
	if err != nil {
		return fmt.Errorf("store: discarding item %d: %w", id, err)
	}

	return requireOneRow(res, id)
}

// QueueCounts returns per-status item counts.
func (s *Store) QueueCounts(ctx context.Context) (QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx, sqlQueueCounts)
	if err != nil {
		return QueueCounts{}, fmt.Errorf("store: counting queue items: %w", err)
	}
	defer rows.Close()

	var counts QueueCounts

	for rows.Next() {
		var (
			status string
			n      int64
		)

		if err := rows.Scan(&status, &n); err != nil {
			return QueueCounts{}, fmt.Errorf("store: counting queue items: %w", err)
		}

		switch status {
		case StatusPending:
			counts.Pending = n
		case StatusInflight:
			counts.Inflight = n
		case StatusFailed:
			counts.Failed = n
		}
	}

	if err := rows.Err(); err != nil {
		return QueueCounts{}, fmt.Errorf("store: counting queue items: %w", err)
	}

	return counts, nil
}

// ListQueueItems returns every queue item in insertion order, for the
// queue inspection command.
func (s *Store) ListQueueItems(ctx context.Context) ([]QueueItem, error) {
	rows, err := s.db.QueryContext(ctx, sqlListQueueItems)
	if err != nil {
		return nil, fmt.Errorf("store: listing queue items: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// scanQueueItems materializes queue rows, validating kind and op against
// the entity vocabulary so corrupt rows surface as errors, not as
// misrouted mutations.
func scanQueueItems(rows *sql.Rows) ([]QueueItem, error) {
	var items []QueueItem

	for rows.Next() {
		var (
			item           QueueItem
			kindRaw, opRaw string
			lastError      sql.NullString
			leaseOwner     sql.NullString
			leaseExpires   sql.NullInt64
		)

		err := rows.Scan(&item.ID, &kindRaw, &item.EntityID, &opRaw, &item.Payload,
			&item.Attempts, &item.Status, &lastError, &leaseOwner, &leaseExpires,
			&item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("store: scanning queue item: %w", err)
		}

		kind, err := entity.ParseKind(kindRaw)
		if err != nil {
			return nil, fmt.Errorf("store: queue item %d: %w", item.ID, err)
		}

		op, err := entity.ParseOp(opRaw)
		if err != nil {
			return nil, fmt.Errorf("store: queue item %d: %w", item.ID, err)
		}

		item.Kind = kind
		item.Op = op
		item.LastError = lastError.String
		item.LeaseOwner = leaseOwner.String
		item.LeaseExpiresAt = leaseExpires.Int64

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scanning queue items: %w", err)
	}

	return items, nil
}

// requireOneRow converts a zero-row update into ErrNotFound.
func requireOneRow(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: checking affected rows for item %d: %w", id, err)
	}

	if affected == 0 {
		return fmt.Errorf("store: item %d: %w", id, ErrNotFound)
	}

	return nil
}
