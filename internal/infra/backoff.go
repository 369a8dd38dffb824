package infra

import (
	"time"
)

// Backoff computes exponential retry delays between remote API attempts.
// The zero value is unusable; construct with NewBackoff.
type Backoff struct {
	min time.Duration
	max time.Duration
}

// NewBackoff creates a backoff policy doubling from min up to max.
// Non-positive bounds fall back to 1s..10s, the brokerage retry defaults.
func NewBackoff(min, max time.Duration) Backoff {
	if min <= 0 {
		min = 1 * time.Second
	}
	if max < min {
		max = 10 * time.Second
	}
	return Backoff{min: min, max: max}
}

// Delay returns the delay before retry attempt n (0-based): min * 2^n,
// capped at max. Negative attempts return min.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		return b.min
	}

	// 2^30 * min already exceeds any sane cap; shift no further to avoid
	// overflow.
	if attempt > 30 {
		return b.max
	}

	d := b.min * time.Duration(1<<attempt)
	if d > b.max {
		return b.max
	}
	return d
}
