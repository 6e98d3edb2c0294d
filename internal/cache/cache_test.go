package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts Options) *Cache[string] {
	t.Helper()
	if opts.Capacity == 0 {
		opts.Capacity = 10
	}
	c, err := New[string](opts)
	require.NoError(t, err)
	return c
}

func TestGetOrComputeComputesOncePerKey(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})
	calls := 0
	compute := func(context.Context) (string, bool, error) {
		calls++
		return "value", false, nil
	}

	for i := 0; i < 3; i++ {
		got, err := c.GetOrCompute(context.Background(), "k", compute)
		require.NoError(t, err)
		assert.Equal(t, "value", got)
	}
	assert.Equal(t, 1, calls)
}

func TestTTLExpiryRecomputes(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	calls := 0
	compute := func(context.Context) (string, bool, error) {
		calls++
		return "v", false, nil
	}

	_, err := c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)

	current = current.Add(59 * time.Second)
	_, err = c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	current = current.Add(2 * time.Second)
	_, err = c.GetOrCompute(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCacheForeverIgnoresTTL(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})
	current := time.Unix(1000, 0)
	c.now = func() time.Time { return current }

	calls := 0
	_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, bool, error) {
		calls++
		return "pinned", true, nil
	})
	require.NoError(t, err)

	current = current.Add(1000 * time.Hour)
	got, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, bool, error) {
		calls++
		return "recomputed", false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "pinned", got)
	assert.Equal(t, 1, calls)
}

func TestErrorsAreNotCached(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})
	boom := errors.New("boom")
	calls := 0

	_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, bool, error) {
		calls++
		return "", false, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (string, bool, error) {
		calls++
		return "ok", false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 2, calls)
}

func TestLRUEviction(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute, Capacity: 2})
	ctx := context.Background()
	constant := func(v string) ComputeFunc[string] {
		return func(context.Context) (string, bool, error) { return v, false, nil }
	}

	_, _ = c.GetOrCompute(ctx, "a", constant("a"))
	_, _ = c.GetOrCompute(ctx, "b", constant("b"))
	_, _ = c.GetOrCompute(ctx, "c", constant("c"))

	assert.Equal(t, 2, c.Len())
	_, ok := c.Peek("a")
	assert.False(t, ok, "oldest entry should have been evicted")
	_, ok = c.Peek("c")
	assert.True(t, ok)
}

func TestRequestCollapsing(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})

	const callers = 16
	var computes, misses atomic.Int32
	c.opts.OnMiss = func() { misses.Add(1) }
	release := make(chan struct{})
	started := make(chan struct{}, callers)

	compute := func(context.Context) (string, bool, error) {
		computes.Add(1)
		<-release
		return "shared", false, nil
	}

	var wg sync.WaitGroup
	results := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			got, err := c.GetOrCompute(context.Background(), "k", compute)
			require.NoError(t, err)
			results[i] = got
		}(i)
	}

	for i := 0; i < callers; i++ {
		<-started
	}
	// Give every goroutine a chance to reach the flight before releasing.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load())
	assert.Equal(t, int32(1), misses.Load(), "collapsed callers count one miss per compute")
	for _, got := range results {
		assert.Equal(t, "shared", got)
	}
}

func TestHitAndMissCallbacks(t *testing.T) {
	var hits, misses int
	c := newTestCache(t, Options{
		TTL:    time.Minute,
		OnHit:  func() { hits++ },
		OnMiss: func() { misses++ },
	})
	compute := func(context.Context) (string, bool, error) { return "v", false, nil }

	_, _ = c.GetOrCompute(context.Background(), "k", compute)
	_, _ = c.GetOrCompute(context.Background(), "k", compute)
	_, _ = c.GetOrCompute(context.Background(), "k", compute)

	assert.Equal(t, 1, misses)
	assert.Equal(t, 2, hits)
}

func TestInvalidateForcesRecompute(t *testing.T) {
	c := newTestCache(t, Options{TTL: time.Minute})
	calls := 0
	compute := func(context.Context) (string, bool, error) {
		calls++
		return "v", true, nil
	}

	_, _ = c.GetOrCompute(context.Background(), "k", compute)
	c.Invalidate("k")
	_, _ = c.GetOrCompute(context.Background(), "k", compute)
	assert.Equal(t, 2, calls)
}

func TestNormalizeCanonicalizesKeys(t *testing.T) {
	c := newTestCache(t, Options{
		TTL:       time.Minute,
		Normalize: func(k string) string { return k + "|norm" },
	})
	calls := 0
	compute := func(context.Context) (string, bool, error) {
		calls++
		return "v", false, nil
	}

	_, _ = c.GetOrCompute(context.Background(), "k", compute)
	_, _ = c.GetOrCompute(context.Background(), "k", compute)
	assert.Equal(t, 1, calls)
}
