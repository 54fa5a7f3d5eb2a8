package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/router-for-me/throttlegate/internal/clock"
)

func TestMemoryCounterStoreIncrementAndExpiry(t *testing.T) {
	fake := clock.NewFake(testEpoch)
	store := NewMemoryCounterStore(fake)
	ctx := context.Background()
	expires := testEpoch.Add(time.Minute)

	for want := int64(1); want <= 3; want++ {
		got, errIncr := store.IncrementAndGet(ctx, "k", expires)
		require.NoError(t, errIncr)
		assert.Equal(t, want, got)
	}

	fake.Set(expires)
	got, errIncr := store.IncrementAndGet(ctx, "k", expires.Add(time.Minute))
	require.NoError(t, errIncr)
	assert.Equal(t, int64(1), got)
}

func TestMemoryCounterStoreSweep(t *testing.T) {
	fake := clock.NewFake(testEpoch)
	store := NewMemoryCounterStore(fake)
	ctx := context.Background()

	_, _ = store.IncrementAndGet(ctx, "short", testEpoch.Add(time.Second))
	_, _ = store.IncrementAndGet(ctx, "long", testEpoch.Add(time.Hour))
	require.Equal(t, 2, store.Len())

	fake.Advance(time.Minute)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryCounterStoreConcurrent(t *testing.T) {
	const workers = 100
	store := NewMemoryCounterStore(clock.NewFake(testEpoch))
	expires := testEpoch.Add(time.Minute)

	seen := make([]bool, workers+1)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, errIncr := store.IncrementAndGet(context.Background(), "shared", expires)
			assert.NoError(t, errIncr)
			mu.Lock()
			seen[got] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	for i := 1; i <= workers; i++ {
		assert.True(t, seen[i], "missing count %d", i)
	}
}

func TestMemoryCounterStoreHonorsCanceledContext(t *testing.T) {
	store := NewMemoryCounterStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, errIncr := store.IncrementAndGet(ctx, "k", time.Now().Add(time.Minute))
	assert.ErrorIs(t, errIncr, context.Canceled)
}

func TestMemoryCounterStoreJanitor(t *testing.T) {
	fake := clock.NewFake(testEpoch)
	store := NewMemoryCounterStore(fake)
	_, _ = store.IncrementAndGet(context.Background(), "k", testEpoch.Add(time.Second))
	fake.Advance(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.StartJanitor(ctx, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
}
