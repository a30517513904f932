package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
)

// CreateDocument stores document metadata. Content is uploaded separately
// via UploadDocumentContent so large scans never travel as JSON.
func (c *Client) CreateDocument(ctx context.Context, d *Document) (*Document, error) {
	var created Document
	if err := c.sendJSON(ctx, http.MethodPost, "/v1/documents", d, &created); err != nil {
		return nil, fmt.Errorf("creating document %s: %w", d.ID, err)
	}

	return &created, nil
}

// UpdateDocument replaces document metadata with the given payload snapshot.
func (c *Client) UpdateDocument(ctx context.Context, d *Document) (*Document, error) {
	var updated Document
	if err := c.sendJSON(ctx, http.MethodPut, "/v1/documents/"+url.PathEscape(d.ID), d, &updated); err != nil {
		return nil, fmt.Errorf("updating document %s: %w", d.ID, err)
	}

	return &updated, nil
}

// DeleteDocument removes a document and its stored content.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if err := c.delete(ctx, "/v1/documents/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}

	return nil
}

// ListDocuments fetches all document metadata, following pagination cursors.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	return listAll[Document](ctx, c, "/v1/documents")
}

// UploadDocumentContent streams the staged file at contentPath to the
// document's content endpoint. The body factory reopens the file on each
// retry attempt so a mid-stream network failure cannot send a truncated
// body.
func (c *Client) UploadDocumentContent(ctx context.Context, id, contentPath, contentType string) error {
	body := func() (io.Reader, error) {
		f, err := os.Open(contentPath)
		if err != nil {
			return nil, fmt.Errorf("opening staged content: %w", err)
		}

		return f, nil
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	resp, err := c.Do(ctx, http.MethodPut, "/v1/documents/"+url.PathEscape(id)+"/content", body, contentType)
	if err != nil {
		return fmt.Errorf("uploading document %s content: %w", id, err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	return nil
}
