package tokenverify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetcher returns a new empty set per call, optionally blocking until
// released.
type countingFetcher struct {
	calls atomic.Int64
	gate  chan struct{}
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, _ string) (jwk.Set, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return jwk.NewSet(), nil
}

func TestKeyCache_GetCachesWithinTTL(t *testing.T) {
	f := &countingFetcher{}
	c := NewKeyCache("https://issuer.example/.well-known/jwks.json", time.Hour, time.Second, f)

	first, err := c.Get(context.Background())
	require.NoError(t, err)
	second, err := c.Get(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), f.calls.Load())
	assert.Equal(t, int64(1), c.Stats().Fetches)
	assert.False(t, c.Stats().FetchedAt.IsZero())
}

func TestKeyCache_Defaults(t *testing.T) {
	c := NewKeyCache("u", 0, 0, nil)
	assert.Equal(t, DefaultCacheTTL, c.ttl)
	assert.Equal(t, DefaultFetchTimeout, c.timeout)
	assert.IsType(t, &HTTPFetcher{}, c.fetcher)
}

func TestKeyCache_RefreshAlwaysFetches(t *testing.T) {
	f := &countingFetcher{}
	c := NewKeyCache("u", time.Hour, time.Second, f)

	first, err := c.Get(context.Background())
	require.NoError(t, err)
	refreshed, err := c.Refresh(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, refreshed)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestKeyCache_LateRefreshReusesNewerSet(t *testing.T) {
	f := &countingFetcher{}
	c := NewKeyCache("u", time.Hour, time.Second, f)

	c.Seed(jwk.NewSet(), time.Now())
	missed, err := c.get(context.Background())
	require.NoError(t, err)

	// Another caller's refresh lands before this one asks.
	newer := jwk.NewSet()
	c.Seed(newer, time.Now())

	got, err := c.refreshAfter(context.Background(), missed.gen)
	require.NoError(t, err)
	assert.Same(t, newer, got)
	assert.Equal(t, int64(0), f.calls.Load())

	got, err = c.refreshAfter(context.Background(), c.current().gen)
	require.NoError(t, err)
	assert.NotSame(t, newer, got)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestKeyCache_Invalidate(t *testing.T) {
	f := &countingFetcher{}
	c := NewKeyCache("u", time.Hour, time.Second, f)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.Get(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.calls.Load())
}

func TestKeyCache_FailureLeavesNoSet(t *testing.T) {
	f := &countingFetcher{err: errors.New("boom")}
	c := NewKeyCache("u", time.Hour, time.Second, f)

	_, err := c.Get(context.Background())
	require.Error(t, err)
	assert.Zero(t, c.Stats().Keys)
	assert.True(t, c.Stats().FetchedAt.IsZero())

	// The failure is not cached.
	_, err = c.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestKeyCache_ConcurrentMissesCollapse(t *testing.T) {
	f := &countingFetcher{gate: make(chan struct{})}
	c := NewKeyCache("u", time.Hour, 5*time.Second, f)

	const n = 20
	var wg sync.WaitGroup
	sets := make([]jwk.Set, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sets[i], errs[i] = c.Get(context.Background())
		}(i)
	}

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	// Give the remaining goroutines a chance to join the flight.
	time.Sleep(50 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int64(1), f.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, sets[0], sets[i])
	}
}

func TestKeyCache_CancelledCallerStillPopulates(t *testing.T) {
	f := &countingFetcher{gate: make(chan struct{})}
	c := NewKeyCache("u", time.Hour, 5*time.Second, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	close(f.gate)
	require.Eventually(t, func() bool { return !c.Stats().FetchedAt.IsZero() }, time.Second, 5*time.Millisecond)

	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestKeyCache_FetchTimeout(t *testing.T) {
	f := &countingFetcher{gate: make(chan struct{})}
	defer close(f.gate)
	c := NewKeyCache("u", time.Hour, 50*time.Millisecond, f)

	_, err := c.Get(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyCache_SeedRespectsAge(t *testing.T) {
	f := &countingFetcher{}
	c := NewKeyCache("u", time.Hour, time.Second, f)

	c.Seed(jwk.NewSet(), time.Now().Add(-2*time.Hour))
	_, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load())

	c.Seed(jwk.NewSet(), time.Now())
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.calls.Load())
}
