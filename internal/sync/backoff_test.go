package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelay_DoublesUntilCap(t *testing.T) {
	t.Parallel()

	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		20 * time.Second,
		40 * time.Second,
		80 * time.Second,
		160 * time.Second,
		5 * time.Minute, // 320s capped
		5 * time.Minute,
	}

	for attempt, expected := range want {
		assert.Equal(t, expected, nextDelay(attempt), "attempt %d", attempt)
	}
}

func TestNextDelay_StrictlyIncreasesBelowCap(t *testing.T) {
	t.Parallel()

	prev := time.Duration(0)

	for attempt := 0; attempt < 20; attempt++ {
		d := nextDelay(attempt)

		if d < maxDelay {
			assert.Greater(t, d, prev, "attempt %d", attempt)
		} else {
			assert.Equal(t, maxDelay, d, "attempt %d", attempt)
		}

		prev = d
	}
}

func TestNextDelay_ClampsExtremeAttempts(t *testing.T) {
	t.Parallel()

	// Shift counts far past any realistic attempt must not overflow.
	assert.Equal(t, maxDelay, nextDelay(63))
	assert.Equal(t, maxDelay, nextDelay(1<<30))
	assert.Equal(t, 5*time.Second, nextDelay(-1))
}
