package engine

import (
	"math"
	"time"
)

// RetryPolicy computes when a failed delivery attempt is tried again.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 3 attempts starting at one minute, capped at 15.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Minute,
		MaxDelay:    15 * time.Minute,
	}
}

// NextRetryDelay returns base * 2^(attempts-1), capped at MaxDelay.
// attempts is the number of calls already made.
func (p RetryPolicy) NextRetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := p.BaseDelay
	for i := 1; i < attempts; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		// stop doubling before the shift can overflow
		if delay > time.Duration(math.MaxInt64/2) {
			break
		}
		delay *= 2
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// ShouldRetry reports whether another call is allowed after attempts calls.
// Every failure kind is retried the same way until the budget runs out.
func (p RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// NextRetryTime is now plus NextRetryDelay(attempts).
func (p RetryPolicy) NextRetryTime(now time.Time, attempts int) time.Time {
	return now.Add(p.NextRetryDelay(attempts))
}
