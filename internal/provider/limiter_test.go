package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Unlimited(t *testing.T) {
	l := newLimiter(RateLimit{})
	for range 100 {
		release, err := l.acquire(context.Background())
		require.NoError(t, err)
		release()
	}
}

func TestLimiter_RequestsPerMinuteBlocks(t *testing.T) {
	// 600 rpm is one token per 100ms with a burst of one.
	l := newLimiter(RateLimit{RequestsPerMinute: 600})

	release, err := l.acquire(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx)
	assert.Error(t, err)
}

func TestLimiter_SlotsReleased(t *testing.T) {
	l := newLimiter(RateLimit{MaxConcurrent: 1})

	release, err := l.acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	_, err = l.acquire(ctx)
	cancel()
	require.Error(t, err)

	release()
	release2, err := l.acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestLimiter_Backoff(t *testing.T) {
	l := newLimiter(RateLimit{})
	l.backoff(50 * time.Millisecond)

	start := time.Now()
	release, err := l.acquire(context.Background())
	require.NoError(t, err)
	release()
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)

	l.backoff(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, retryAfter("3"))
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("soon"))
}
