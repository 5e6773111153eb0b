package jobs

import (
	"math/rand"
	"time"
)

// backoffBase and backoffMax mirror a Celery-style retry_backoff/
// retry_backoff_max setting (exponential, capped, with full jitter).
const (
	backoffBase = 2 * time.Second
	backoffMax  = 10 * time.Minute
)

// nextRetryDelay computes an exponential-backoff-with-full-jitter delay
// for the given attempt number (1-indexed: the first retry is attempt 1).
func nextRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	exp := backoffBase * time.Duration(1<<uint(minInt(attempt, 20)))
	if exp > backoffMax || exp <= 0 {
		exp = backoffMax
	}

	return time.Duration(rand.Int63n(int64(exp)))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
