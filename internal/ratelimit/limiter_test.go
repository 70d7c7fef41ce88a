package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireImmediateWhenTokensAvailable(t *testing.T) {
	limiter := New(10, 5)

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Acquire(context.Background(), 1))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond,
		"acquiring within burst capacity should not block")
}

func TestAcquireBlocksForDeficit(t *testing.T) {
	// 20 tokens/sec, burst of 1: the second acquire must wait ~50ms.
	limiter := New(20, 1)

	require.NoError(t, limiter.Acquire(context.Background(), 1))

	start := time.Now()
	require.NoError(t, limiter.Acquire(context.Background(), 1))
	waited := time.Since(start)

	assert.GreaterOrEqual(t, waited, 30*time.Millisecond)
	assert.Less(t, waited, 500*time.Millisecond)
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.NoError(t, limiter.Acquire(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := limiter.Acquire(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokensNeverExceedCapacity(t *testing.T) {
	limiter := New(1000, 5)

	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, limiter.Available(), float64(5))
}

func TestWindowBound(t *testing.T) {
	// Across any window of duration T, acquisitions must not exceed
	// burst + T*rate. Run many goroutines against a small bucket and
	// count what got through.
	const rate = 50.0
	const burst = 5
	limiter := New(rate, burst)

	window := 300 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	var mu sync.Mutex
	acquired := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if err := limiter.Acquire(ctx, 1); err != nil {
					return
				}
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	maxAllowed := burst + int(rate*window.Seconds()) + 2 // small timing slack
	assert.LessOrEqual(t, acquired, maxAllowed)
	assert.Greater(t, acquired, 0)
}

func TestConcurrentAcquireNeverOverdraws(t *testing.T) {
	limiter := New(100, 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = limiter.Acquire(context.Background(), 1)
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, limiter.Available(), float64(0))
}

func TestStatsTrackAcquisitions(t *testing.T) {
	limiter := New(100, 10)

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Acquire(context.Background(), 1))
	}

	stats := limiter.Stats()
	assert.Equal(t, uint64(3), stats.TotalRequests)
}
