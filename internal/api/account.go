package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Me returns the account the current token belongs to. Login uses it to
// verify a pasted token before saving.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.getJSON(ctx, "/v1/me", &account); err != nil {
		return nil, fmt.Errorf("fetching account: %w", err)
	}

	return &account, nil
}

// Health checks API reachability with a single unauthenticated request and
// no retry. The connectivity monitor calls this on every probe tick, so it
// must fail fast rather than mask an outage behind backoff.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("api: creating health request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: health probe: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Err: classifyStatus(resp.StatusCode)}
	}

	return nil
}
