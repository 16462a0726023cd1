package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstWithinCapacity(t *testing.T) {
	l := NewRateLimiter(10, time.Second)

	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Acquire(context.Background(), 1))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

// capacity + k 个请求：多出的 k 个被延迟而不是拒绝，总耗时 >= k/capacity*interval
func TestRateLimiterDelaysExcess(t *testing.T) {
	const (
		capacity = 5
		k        = 3
		interval = 200 * time.Millisecond
	)
	l := NewRateLimiter(capacity, interval)

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, capacity+k)
	for i := 0; i < capacity+k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(context.Background(), 1)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	minElapsed := time.Duration(float64(k) / float64(capacity) * float64(interval))
	assert.GreaterOrEqual(t, time.Since(start), minElapsed)
}

func TestRateLimiterCancelRefunds(t *testing.T) {
	l := NewRateLimiter(1, time.Hour)
	require.NoError(t, l.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// 被取消的预留已归还，不会让后续请求多等
	assert.InDelta(t, 0, l.Available(), 0.01)
}

func TestRateLimiterWaitsOnlyForOwnDeficit(t *testing.T) {
	l := NewRateLimiter(10, 100*time.Millisecond)
	require.NoError(t, l.Acquire(context.Background(), 10))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), 1))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 5*time.Millisecond)
	assert.Less(t, elapsed, 100*time.Millisecond)
}
