package sync

import "time"

// Retry policy constants. These are deliberately compile-time: the cadence
// of automatic retries is part of the engine's contract with the API, not
// something to tune per installation.
const (
	// initialDelay is the backoff after the first failed drain.
	initialDelay = 5 * time.Second

	// maxDelay caps the backoff regardless of how many drains have failed.
	maxDelay = 5 * time.Minute

	// maxAttempts caps how many automatic retries the scheduler arms. Past
	// it the scheduler goes quiet until an external trigger (reconnect,
	// wake, restart) starts a fresh drain.
	maxAttempts = 5
)

// maxShift bounds the exponent so the shift below cannot overflow even for
// absurd attempt counts. 2^16 seconds already exceeds maxDelay by orders of
// magnitude.
const maxShift = 16

// nextDelay returns the backoff before retry number attempt (0-based):
// initialDelay doubled per attempt, capped at maxDelay. Deterministic — no
// jitter — so retry timing is predictable and testable.
func nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	if attempt > maxShift {
		attempt = maxShift
	}

	delay := initialDelay << attempt
	if delay > maxDelay || delay <= 0 {
		return maxDelay
	}

	return delay
}
