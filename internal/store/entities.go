package store

import (
	"context"
	"fmt"

	"github.com/shoeboxhq/shoebox-go/internal/entity"
)

// tableFor maps an entity kind to its table name. Indirection through this
// map (rather than string interpolation of caller input) keeps kind-driven
// SQL construction closed over the known tables.
var tableFor = map[entity.Kind]string{
	entity.KindReceipt:  "receipts",
	entity.KindDevice:   "devices",
	entity.KindDocument: "documents",
}

// MarkSynced flips an entity's synced flag after its mutation drained.
// A missing row is not an error: the entity may have been deleted locally
// while its create/update was still queued.
func (s *Store) MarkSynced(ctx context.Context, kind entity.Kind, id string) error {
	table, ok := tableFor[kind]
	if !ok {
		return fmt.Errorf("store: marking synced: unknown kind %q", kind)
	}

	query := fmt.Sprintf(`UPDATE %s SET synced = 1, updated_at = ? WHERE id = ?`, table)

	if _, err := s.db.ExecContext(ctx, query, s.nowNano(), id); err != nil {
		return fmt.Errorf("store: marking %s %s synced: %w", kind, id, err)
	}

	return nil
}

// EntityCounts returns stored entity totals per kind.
func (s *Store) EntityCounts(ctx context.Context) (EntityCounts, error) {
	var counts EntityCounts

	for kind, dst := range map[entity.Kind]*int64{
		entity.KindReceipt:  &counts.Receipts,
		entity.KindDevice:   &counts.Devices,
		entity.KindDocument: &counts.Documents,
	} {
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tableFor[kind])
		if err := s.db.QueryRowContext(ctx, query).Scan(dst); err != nil {
			return EntityCounts{}, fmt.Errorf("store: counting %ss: %w", kind, err)
		}
	}

	return counts, nil
}

// DeleteEntity removes an entity row by kind. A missing row is not an
// error — deletes are idempotent, matching the queue's delete semantics.
func (s *Store) DeleteEntity(ctx context.Context, kind entity.Kind, id string) error {
	table, ok := tableFor[kind]
	if !ok {
		return fmt.Errorf("store: deleting entity: unknown kind %q", kind)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table)

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("store: deleting %s %s: %w", kind, id, err)
	}

	return nil
}
