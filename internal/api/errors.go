// Package api provides the HTTP client for the shoebox sync API with
// automatic retry, backoff, and error classification. The queue engine
// layers its own cross-drain retry policy on top; the transient retry
// here only smooths over blips within a single call.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest    = errors.New("api: bad request")
	ErrUnauthorized  = errors.New("api: unauthorized")
	ErrForbidden     = errors.New("api: forbidden")
	ErrNotFound      = errors.New("api: not found")
	ErrConflict      = errors.New("api: conflict")
	ErrUnprocessable = errors.New("api: validation rejected")
	ErrThrottled     = errors.New("api: throttled")
	ErrServerError   = errors.New("api: server error")
)

// APIError wraps a sentinel error with HTTP status code, request ID, and
// the API error message body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryableStatus reports whether the given HTTP status code is worth
// retrying within a single call.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryable classifies an error from any client method for the queue
// engine: true means a later drain may succeed (network trouble, timeouts,
// throttling, server errors); false means the server rejected the request
// and retrying the same payload cannot help (or the caller canceled).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.StatusCode)
	}

	// A timed-out request is network trouble, not a rejection. This must
	// run before the context check: since Go 1.23 the http.Client's own
	// Timeout produces an error that also matches context.DeadlineExceeded,
	// and misreading it as a caller cancellation would park the item.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// No HTTP status: transport-level failure (DNS, refused connection,
	// reset). The remote never ruled on the payload, so retry later.
	return true
}
