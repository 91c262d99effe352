package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusive(t *testing.T) {
	locker := NewLocalLocker(Options{})
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "file:mapping", time.Second)
	require.NoError(t, err)

	_, err = locker.Obtain(ctx, "file:mapping", time.Second)
	require.ErrorIs(t, err, ErrNotObtained)

	other, err := locker.Obtain(ctx, "other", time.Second)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx), "second release should be a no-op")

	again, err := locker.Obtain(ctx, "file:mapping", time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	locker := NewLocalLocker(Options{Wait: time.Second})
	ctx := context.Background()

	release, err := locker.Obtain(ctx, "k", 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = release(ctx)
	}()

	next, err := locker.Obtain(ctx, "k", 0)
	require.NoError(t, err)
	require.NoError(t, next(ctx))
}

func TestLocalLockerSerializesCriticalSection(t *testing.T) {
	locker := NewLocalLocker(Options{Wait: 5 * time.Second})
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Obtain(ctx, "shared", 0)
			if err != nil {
				t.Errorf("obtain: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			_ = release(ctx)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxInside)
}

func TestLocalLockerHonorsContext(t *testing.T) {
	locker := NewLocalLocker(Options{Wait: time.Minute})
	release, err := locker.Obtain(context.Background(), "k", 0)
	require.NoError(t, err)
	defer release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(ctx, "k", 0)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestObtainRequiresKey(t *testing.T) {
	_, err := NewLocalLocker(Options{}).Obtain(context.Background(), "  ", 0)
	require.Error(t, err)

	_, err = NewRedisLocker(nil, nil, Options{})
	require.Error(t, err)
}

func TestOptionsAttempts(t *testing.T) {
	require.Equal(t, 0, Options{}.attempts())
	require.Equal(t, 20, Options{Wait: time.Second}.attempts())
	require.Equal(t, 4, Options{Wait: time.Second, RetryInterval: 250 * time.Millisecond}.attempts())
}
