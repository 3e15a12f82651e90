// Package ratelimit spaces out wallets and swaps so a run does not burst
// against the RPC endpoint.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum interval between permits. The first permit is
// immediate and idle time never builds up a burst. An interval of zero
// disables pacing.
type Limiter struct {
	interval time.Duration
	limiter  *rate.Limiter
}

// New creates a Limiter with the given interval. Negative intervals are zero.
func New(interval time.Duration) *Limiter {
	if interval < 0 {
		interval = 0
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{
		interval: interval,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// Wait blocks until a permit is available or ctx is done. A wait that would
// outlast ctx's deadline fails at once, and a cancelled wait gives its slot
// back.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Interval returns the spacing between permits.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
