package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQL statements for document rows.
const (
	sqlUpsertDocument = `INSERT INTO documents
		(id, owner_kind, owner_id, name, content_type, size, sha256,
		 content_path, synced, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 owner_kind = excluded.owner_kind,
		 owner_id = excluded.owner_id,
		 name = excluded.name,
		 content_type = excluded.content_type,
		 size = excluded.size,
		 sha256 = excluded.sha256,
		 content_path = excluded.content_path,
		 synced = excluded.synced,
		 updated_at = excluded.updated_at`

	sqlGetDocument = `SELECT id, owner_kind, owner_id, name, content_type, size,
		sha256, content_path, synced, created_at, updated_at
		FROM documents WHERE id = ?`

	sqlListDocuments = `SELECT id, owner_kind, owner_id, name, content_type, size,
		sha256, content_path, synced, created_at, updated_at
		FROM documents ORDER BY created_at DESC, id`

	sqlClearDocumentContentPath = `UPDATE documents
		SET content_path = NULL, updated_at = ? WHERE id = ?`
)

// UpsertDocument inserts or replaces a document metadata row.
func (s *Store) UpsertDocument(ctx context.Context, d *Document) error {
	now := s.nowNano()

	if d.CreatedAt == 0 {
		d.CreatedAt = now
	}

	if d.UpdatedAt == 0 {
		d.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, sqlUpsertDocument,
		d.ID, d.OwnerKind, d.OwnerID, d.Name, nullString(d.ContentType),
		d.Size, nullString(d.SHA256), nullString(d.ContentPath),
		boolToInt(d.Synced), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: upserting document %s: %w", d.ID, err)
	}

	return nil
}

// GetDocument loads one document. Returns ErrNotFound when absent.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, sqlGetDocument, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: document %s: %w", id, ErrNotFound)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading document %s: %w", id, err)
	}

	return d, nil
}

// ListDocuments returns all document metadata, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, sqlListDocuments)
	if err != nil {
		return nil, fmt.Errorf("store: listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document

	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scanning document: %w", err)
		}

		docs = append(docs, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: listing documents: %w", err)
	}

	return docs, nil
}

// ClearDocumentContentPath removes the staged-content marker once the
// file has drained to the server. The staged file itself is removed by
// the caller after this succeeds.
func (s *Store) ClearDocumentContentPath(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlClearDocumentContentPath, s.nowNano(), id); err != nil {
		return fmt.Errorf("store: clearing content path for document %s: %w", id, err)
	}

	return nil
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d                            Document
		contentType, sha256, cntPath sql.NullString
		synced                       int64
	)

	err := row.Scan(&d.ID, &d.OwnerKind, &d.OwnerID, &d.Name, &contentType,
		&d.Size, &sha256, &cntPath, &synced, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.ContentType = contentType.String
	d.SHA256 = sha256.String
	d.ContentPath = cntPath.String
	d.Synced = synced != 0

	return &d, nil
}
