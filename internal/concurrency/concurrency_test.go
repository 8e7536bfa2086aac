package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Shutdown(time.Second)

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&count, 1)
		}))
	}
	wg.Wait()
	assert.EqualValues(t, 20, atomic.LoadInt64(&count))
}

func TestWorkerPoolSubmitAfterShutdown(t *testing.T) {
	pool := NewWorkerPool(1)
	require.NoError(t, pool.Shutdown(time.Second))

	err := pool.Submit(func() {})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKeyedSemaphoreCapsPerKey(t *testing.T) {
	sem := NewKeyedSemaphore(1)
	ctx := context.Background()

	require.NoError(t, sem.Acquire(ctx, "aws"))

	// Same key blocks until released.
	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sem.Acquire(blocked, "aws"), context.DeadlineExceeded)

	// A different key is independent.
	require.NoError(t, sem.Acquire(ctx, "gcp"))
	sem.Release("gcp")

	sem.Release("aws")
	require.NoError(t, sem.Acquire(ctx, "aws"))
	sem.Release("aws")
}

func TestKeyedSemaphoreReleaseWithoutAcquire(t *testing.T) {
	sem := NewKeyedSemaphore(2)
	// Must not panic or corrupt the permit count.
	sem.Release("vultr")
	require.NoError(t, sem.Acquire(context.Background(), "vultr"))
}
