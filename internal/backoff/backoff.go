// Package backoff implements the truncated exponential backoff with jitter
// shared by every reconnect/retry loop in the engine (spec.md §5):
// delay_n = min(max_delay, min_delay * 2^(n-1)) + U(0, 0.25*base), with the
// sum then capped at max_delay so no delay ever exceeds it.
package backoff

import (
	"math/rand"
	"time"
)

// Delay computes the backoff duration for attempt (1-indexed).
func Delay(attempt int, minDelay, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(minDelay) * pow2(attempt-1)
	if base > float64(maxDelay) {
		base = float64(maxDelay)
	}
	jitter := rand.Float64() * base * 0.25
	d := time.Duration(base + jitter)
	if d > maxDelay {
		d = maxDelay
	}
	return d
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
