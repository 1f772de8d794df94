package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	release, err := k.Acquire(ctx, "owner-1")
	require.NoError(t, err)

	_, ok := k.TryAcquire("owner-1")
	assert.False(t, ok, "second acquire on the same key must block")

	release()

	release2, ok := k.TryAcquire("owner-1")
	require.True(t, ok, "lock must be free after release")
	release2()
}

func TestAcquireIndependentKeys(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	releaseA, err := k.Acquire(ctx, "owner-a")
	require.NoError(t, err)
	defer releaseA()

	releaseB, err := k.Acquire(ctx, "owner-b")
	require.NoError(t, err)
	defer releaseB()
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "owner-1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = k.Acquire(ctx, "owner-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReleaseIsIdempotent(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "owner-1")
	require.NoError(t, err)

	release()
	release() // second call must not double-release

	release2, ok := k.TryAcquire("owner-1")
	require.True(t, ok)
	defer release2()
}

func TestConcurrentHoldersNeverOverlap(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	var holders int
	var maxHolders int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			release, err := k.Acquire(ctx, "shared")
			if err != nil {
				t.Error(err)
				return
			}
			defer release()

			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders, "at most one holder per key at a time")
}
