package provider

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// limiter blocks callers until a request slot is free. It never drops work:
// a token bucket caps requests per minute and a weighted semaphore caps
// in-flight requests. A 429 can push every caller back via backoff.
type limiter struct {
	bucket *rate.Limiter       // nil when unlimited
	slots  *semaphore.Weighted // nil when unlimited

	mu      sync.Mutex
	retryAt time.Time
}

func newLimiter(rl RateLimit) *limiter {
	l := &limiter{}
	if rl.RequestsPerMinute > 0 {
		l.bucket = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rl.RequestsPerMinute)), 1)
	}
	if rl.MaxConcurrent > 0 {
		l.slots = semaphore.NewWeighted(int64(rl.MaxConcurrent))
	}
	return l
}

// acquire waits for a slot and returns the function that releases it.
func (l *limiter) acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if l.slots != nil {
		if err := l.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			if l.slots != nil {
				l.slots.Release(1)
			}
			return nil, err
		}
	}

	return func() {
		if l.slots != nil {
			l.slots.Release(1)
		}
	}, nil
}

// backoff delays every future acquire until d from now.
func (l *limiter) backoff(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := time.Now().Add(d); until.After(l.retryAt) {
		l.retryAt = until
	}
}
