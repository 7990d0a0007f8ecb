// Package ratelimiter throttles callers by key (identity or client address).
package ratelimiter

import (
	"context"
	"time"
)

// Limiter reports whether one more request for key fits the budget and,
// when it does not, how long the caller should wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// Window converts an average rate and a burst into a fixed window: burst
// requests per window averages out to ratePerSecond.
func Window(ratePerSecond, burst int) (int, time.Duration) {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst < ratePerSecond {
		burst = ratePerSecond
	}
	return burst, time.Duration(burst) * time.Second / time.Duration(ratePerSecond)
}
