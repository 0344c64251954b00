package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// minCallSpacing is the floor between any two consecutive broker calls,
// enforced even when the token bucket has capacity. Guards against burst
// correlation on the broker side.
const minCallSpacing = 500 * time.Millisecond

// Limiter is a token-bucket rate limiter refilling continuously at
// maxPerMinute/60 tokens per second and capped at maxPerMinute tokens,
// with an additional minimum spacing between consecutive calls.
type Limiter struct {
	bucket *rate.Limiter

	mu       sync.Mutex
	lastCall time.Time
}

// NewLimiter builds a limiter for the given per-minute budget.
func NewLimiter(maxPerMinute int) *Limiter {
	if maxPerMinute <= 0 {
		maxPerMinute = 60
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), maxPerMinute),
	}
}

// Wait blocks (without busy-waiting) until a token is available and the
// minimum spacing since the previous call has elapsed, then consumes the
// token. Returns early only on context cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	// Holding the mutex through the spacing sleep serializes callers, which
	// is exactly the contract: no two calls closer than minCallSpacing.
	l.mu.Lock()
	defer l.mu.Unlock()

	if wait := minCallSpacing - time.Since(l.lastCall); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.lastCall = time.Now()
	return nil
}
