package gate

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestZeroBoundsAreUnbounded(t *testing.T) {
	require.Equal(t, Unbounded, NewSlidingWindow(0, time.Second))
	require.Equal(t, Unbounded, NewTokenBucket(-1, time.Second))
	require.Equal(t, Unbounded, NewConcurrency(0))

	release, err := Unbounded.Acquire(context.Background())
	require.NoError(t, err)
	release()
}

func TestSlidingWindowDelaysExtraAcquisition(t *testing.T) {
	const window = 150 * time.Millisecond
	g := NewSlidingWindow(2, window)
	ctx := context.Background()

	start := time.Now()
	for range 2 {
		_, err := g.Acquire(ctx)
		require.NoError(t, err)
	}
	require.Less(t, time.Since(start), window)

	_, err := g.Acquire(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), window)
}

func TestSlidingWindowExpiresWithClock(t *testing.T) {
	now := time.Unix(0, 0)
	g := NewSlidingWindow(2, time.Minute, WithClock(func() time.Time { return now })).(*SlidingWindow)

	_, ok := g.tryAcquire()
	require.True(t, ok)
	now = now.Add(30 * time.Second)
	_, ok = g.tryAcquire()
	require.True(t, ok)

	wait, ok := g.tryAcquire()
	require.False(t, ok)
	require.Equal(t, 30*time.Second, wait)
	require.Equal(t, 2, g.InWindow())

	now = now.Add(31 * time.Second)
	require.Equal(t, 1, g.InWindow())
	_, ok = g.tryAcquire()
	require.True(t, ok)
}

func TestSlidingWindowHonorsCancellation(t *testing.T) {
	g := NewSlidingWindow(1, time.Hour)
	_, err := g.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketBurstThenWait(t *testing.T) {
	g := NewTokenBucket(2, 100*time.Millisecond)
	ctx := context.Background()
	start := time.Now()
	for range 3 {
		_, err := g.Acquire(ctx)
		require.NoError(t, err)
	}
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestConcurrencyBound(t *testing.T) {
	const k = 3
	g := NewConcurrency(k)
	var inFlight, peak atomic.Int32

	var eg errgroup.Group
	for range 20 {
		eg.Go(func() error {
			release, err := g.Acquire(context.Background())
			if err != nil {
				return err
			}
			defer release()
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	require.LessOrEqual(t, peak.Load(), int32(k))
	require.Equal(t, int32(0), inFlight.Load())
}

func TestConcurrencyReleaseIsIdempotent(t *testing.T) {
	g := NewConcurrency(1)
	release, err := g.Acquire(context.Background())
	require.NoError(t, err)
	release()
	release()

	r1, err := g.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx)
	require.Error(t, err)
	r1()
}
