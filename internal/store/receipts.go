package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQL statements for receipt rows.
const (
	sqlUpsertReceipt = `INSERT INTO receipts
		(id, vendor, total_cents, currency, purchased_at, note, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 vendor = excluded.vendor,
		 total_cents = excluded.total_cents,
		 currency = excluded.currency,
		 purchased_at = excluded.purchased_at,
		 note = excluded.note,
		 synced = excluded.synced,
		 updated_at = excluded.updated_at`

	sqlGetReceipt = `SELECT id, vendor, total_cents, currency, purchased_at, note,
		synced, created_at, updated_at FROM receipts WHERE id = ?`

	sqlListReceipts = `SELECT id, vendor, total_cents, currency, purchased_at, note,
		synced, created_at, updated_at FROM receipts ORDER BY purchased_at DESC, id`
)

// UpsertReceipt inserts or replaces a receipt row. Serves both local
// speculative writes (synced=false) and pull-side reconciliation
// (synced=true). created_at survives updates via the conflict clause.
func (s *Store) UpsertReceipt(ctx context.Context, r *Receipt) error {
	now := s.nowNano()

	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}

	if r.UpdatedAt == 0 {
		r.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertReceipt,
		r.ID, r.Vendor, r.TotalCents, r.Currency, r.PurchasedAt,
		nullString(r.Note), boolToInt(r.Synced), r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upserting receipt %s: %w", r.ID, err)
	}

	return nil
}

// GetReceipt loads one receipt. Returns ErrNotFound when absent.
func (s *Store) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	r, err := scanReceipt(s.db.QueryRowContext(ctx, sqlGetReceipt, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: receipt %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading receipt %s: %w", id, err)
	}

	return r, nil
}

// ListReceipts returns all receipts, most recent purchase first.
func (s *Store) ListReceipts(ctx context.Context) ([]Receipt, error) {
	rows, err := s.db.QueryContext(ctx, sqlListReceipts)
	if err != nil {
		return nil, fmt.Errorf("store: listing receipts: %w", err)
	}
	defer rows.Close()

	var receipts []Receipt

	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning receipt: %w", err)
		}

		receipts = append(receipts, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: listing receipts: %w", err)
	}

	return receipts, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (*Receipt, error) {
	var (
		r      Receipt
		note   sql.NullString
		synced int64
	)

	err := row.Scan(&r.ID, &r.Vendor, &r.TotalCents, &r.Currency, &r.PurchasedAt,
		&note, &synced, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}

	r.Note = note.String
	r.Synced = synced != 0

	return &r, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}

	return 0
}
