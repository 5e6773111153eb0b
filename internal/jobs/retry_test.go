package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRetryDelay_BoundedByBackoffMax(t *testing.T) {
	for _, attempt := range []int{1, 2, 5, 10, 50} {
		for i := 0; i < 20; i++ {
			d := nextRetryDelay(attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, backoffMax)
		}
	}
}

func TestNextRetryDelay_SampledMaxGrowsWithAttempt(t *testing.T) {
	sampleMax := func(attempt int, n int) time.Duration {
		var max time.Duration
		for i := 0; i < n; i++ {
			if d := nextRetryDelay(attempt); d > max {
				max = d
			}
		}
		return max
	}

	// The jitter ceiling for a later attempt must be at least as high as
	// for an early one, since it's 2^attempt scaled and capped.
	early := sampleMax(1, 200)
	later := sampleMax(4, 200)
	assert.GreaterOrEqual(t, later, early)
}

func TestMinInt(t *testing.T) {
	assert.Equal(t, 3, minInt(3, 5))
	assert.Equal(t, 5, minInt(7, 5))
}
