package bandwidth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/0xinf0/nooshdaroo/internal/errors"
)

// RateLimiter is a token bucket gating one direction of traffic, a thin
// wrapper around golang.org/x/time/rate rather than a hand-rolled bucket.
// It is single-consumer per direction, so no reordering is introduced.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewRateLimiter builds a RateLimiter targeting ratebps bytes/sec, with a
// burst capacity of one second's worth of traffic at that rate.
func NewRateLimiter(ratebps int64) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratebps), burstFor(ratebps))}
}

func burstFor(ratebps int64) int {
	if ratebps < 1 {
		return 1
	}
	return int(ratebps)
}

// SetRate updates the target rate and resizes the burst to match.
func (r *RateLimiter) SetRate(ratebps int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiter.SetLimit(rate.Limit(ratebps))
	r.limiter.SetBurst(burstFor(ratebps))
}

// TrySend attempts a non-blocking deduction of n bytes, returning false
// without blocking if the bucket can't cover it.
func (r *RateLimiter) TrySend(n int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiter.AllowN(time.Now(), n)
}

// WaitFor blocks until n tokens are available or ctx is done.
func (r *RateLimiter) WaitFor(ctx context.Context, n int) error {
	r.mu.Lock()
	l := r.limiter
	r.mu.Unlock()
	// WaitN rejects any n above the burst outright, so larger requests are
	// waited for in burst-sized steps.
	for n > 0 {
		step := min(n, l.Burst())
		if err := l.WaitN(ctx, step); err != nil {
			return errors.Io(err)
		}
		n -= step
	}
	return nil
}
