package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQL statements for device rows.
const (
	sqlUpsertDevice = `INSERT INTO devices
		(id, name, brand, model, serial_number, receipt_id, warranty_months,
		 purchased_at, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 name = excluded.name,
		 brand = excluded.brand,
		 model = excluded.model,
		 serial_number = excluded.serial_number,
		 receipt_id = excluded.receipt_id,
		 warranty_months = excluded.warranty_months,
		 purchased_at = excluded.purchased_at,
		 synced = excluded.synced,
		 updated_at = excluded.updated_at`

	sqlGetDevice = `SELECT id, name, brand, model, serial_number, receipt_id,
		warranty_months, purchased_at, synced, created_at, updated_at
		FROM devices WHERE id = ?`

	sqlListDevices = `SELECT id, name, brand, model, serial_number, receipt_id,
		warranty_months, purchased_at, synced, created_at, updated_at
		FROM devices ORDER BY purchased_at DESC, id`
)

// UpsertDevice inserts or replaces a device row.
func (s *Store) UpsertDevice(ctx context.Context, d *Device) error {
	now := s.nowNano()

	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}

	if d.UpdatedAt == 0 {
		d.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertDevice,
		d.ID, d.Name, nullString(d.Brand), nullString(d.Model),
		nullString(d.SerialNumber), nullString(d.ReceiptID),
		nullInt64(d.WarrantyMonths), d.PurchasedAt, boolToInt(d.Synced),
		d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upserting device %s: %w", d.ID, err)
	}

	return nil
}

// GetDevice loads one device. Returns ErrNotFound when absent.
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, sqlGetDevice, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: device %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading device %s: %w", id, err)
	}

	return d, nil
}

// ListDevices returns all devices, most recent purchase first.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.db.QueryContext(ctx, sqlListDevices)
	if err != nil {
		return nil, fmt.Errorf("store: listing devices: %w", err)
	}
	defer rows.Close()

	var devices []Device

	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning device: %w", err)
		}

		devices = append(devices, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: listing devices: %w", err)
	}

	return devices, nil
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                            Device
		brand, model, serial, rcptID sql.NullString
		warranty                     sql.NullInt64
		synced                       int64
	)

	err := row.Scan(&d.ID, &d.Name, &brand, &model, &serial, &rcptID,
		&warranty, &d.PurchasedAt, &synced, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Brand = brand.String
	d.Model = model.String
	d.SerialNumber = serial.String
	d.ReceiptID = rcptID.String
	d.WarrantyMonths = warranty.Int64
	d.Synced = synced != 0

	return &d, nil
}
