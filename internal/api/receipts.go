package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// listPageSize is the page size requested from list endpoints.
const listPageSize = 200

// CreateReceipt stores a new receipt. The server echoes the stored entity
// (with its authoritative updatedAt).
func (c *Client) CreateReceipt(ctx context.Context, r *Receipt) (*Receipt, error) {
	var created Receipt
	if err := c.sendJSON(ctx, http.MethodPost, "/v1/receipts", r, &created); err != nil {
		return nil, fmt.Errorf("creating receipt %s: %w", r.ID, err)
	}

	return &created, nil
}

// UpdateReceipt replaces a receipt with the given payload snapshot.
func (c *Client) UpdateReceipt(ctx context.Context, r *Receipt) (*Receipt, error) {
	var updated Receipt
	if err := c.sendJSON(ctx, http.MethodPut, "/v1/receipts/"+url.PathEscape(r.ID), r, &updated); err != nil {
		return nil, fmt.Errorf("updating receipt %s: %w", r.ID, err)
	}

	return &updated, nil
}

// DeleteReceipt removes a receipt.
func (c *Client) DeleteReceipt(ctx context.Context, id string) error {
	if err := c.delete(ctx, "/v1/receipts/"+url.PathEscape(id)); err != nil {
		return fmt.Errorf("deleting receipt %s: %w", id, err)
	}

	return nil
}

// ListReceipts fetches all receipts, following pagination cursors.
func (c *Client) ListReceipts(ctx context.Context) ([]Receipt, error) {
	return listAll[Receipt](ctx, c, "/v1/receipts")
}

// listAll follows the cursor chain of a paginated list endpoint until the
// server reports no further pages.
func listAll[T any](ctx context.Context, c *Client, basePath string) ([]T, error) {
	var (
		all    []T
		cursor string
	)

	for page := 0; ; page++ {
		path := fmt.Sprintf("%s?limit=%d", basePath, listPageSize)
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}

		var resp listPage[T]
		if err := c.getJSON(ctx, path, &resp); err != nil {
			return nil, fmt.Errorf("listing %s page %d: %w", basePath, page, err)
		}

		all = append(all, resp.Items...)

		if resp.NextCursor == "" {
			return all, nil
		}

		cursor = resp.NextCursor
	}
}
