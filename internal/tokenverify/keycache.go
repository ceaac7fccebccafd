package tokenverify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/logger"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a fetched key set is served before refetching.
const DefaultCacheTTL = 12 * time.Hour

// snapshot is an immutable view of the cache. gen increases on every install.
type snapshot struct {
	set       jwk.Set
	fetchedAt time.Time
	gen       uint64
}

// CacheStats describes the cache for health and debug output.
type CacheStats struct {
	Fetches   int64     `json:"fetches"`
	FetchedAt time.Time `json:"fetched_at"`
	Keys      int       `json:"keys"`
}

// KeyCache holds at most one key set, replaced wholesale on refresh.
//
// Reads take a read lock on the current snapshot. Fetches are collapsed
// through a singleflight group so at most one download is in flight; the
// download runs detached from the caller's cancellation so a request that
// gives up still leaves a populated cache behind.
type KeyCache struct {
	url      string
	ttl      time.Duration
	timeout  time.Duration
	fetcher  Fetcher
	observer Observer
	now      func() time.Time

	mu   sync.RWMutex
	snap snapshot

	group   singleflight.Group
	fetches atomic.Int64
}

// NewKeyCache builds an empty cache for url. Non-positive ttl or timeout
// select the defaults; a nil fetcher selects an HTTPFetcher.
func NewKeyCache(url string, ttl, timeout time.Duration, fetcher Fetcher) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(timeout)
	}
	return &KeyCache{
		url:      url,
		ttl:      ttl,
		timeout:  timeout,
		fetcher:  fetcher,
		observer: nopObserver{},
		now:      time.Now,
	}
}

// URL is the key set location this cache reads from.
func (c *KeyCache) URL() string {
	return c.url
}

// Get returns the cached set while it is younger than the TTL, otherwise
// fetches a new one. A failed fetch is returned as an error; an expired set
// is never served.
func (c *KeyCache) Get(ctx context.Context) (jwk.Set, error) {
	snap, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	return snap.set, nil
}

// Refresh fetches a new set regardless of age. Callers arriving while a
// fetch is already running share its result.
func (c *KeyCache) Refresh(ctx context.Context) (jwk.Set, error) {
	snap, err := c.load(ctx, c.current().gen)
	if err != nil {
		return nil, err
	}
	return snap.set, nil
}

// refreshAfter returns a set installed after generation gen. A caller whose
// miss happened on gen reuses a newer fresh set instead of downloading again.
func (c *KeyCache) refreshAfter(ctx context.Context, gen uint64) (jwk.Set, error) {
	snap, err := c.load(ctx, gen)
	if err != nil {
		return nil, err
	}
	return snap.set, nil
}

// Invalidate marks the current set stale so the next Get refetches.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.fetchedAt = time.Time{}
}

// Seed installs set as if it had been fetched at fetchedAt.
func (c *KeyCache) Seed(set jwk.Set, fetchedAt time.Time) {
	c.install(set, fetchedAt)
}

// Stats reports fetch count and the age and size of the current set.
func (c *KeyCache) Stats() CacheStats {
	snap := c.current()
	st := CacheStats{Fetches: c.fetches.Load(), FetchedAt: snap.fetchedAt}
	if snap.set != nil {
		st.Keys = snap.set.Len()
	}
	return st
}

func (c *KeyCache) current() snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *KeyCache) get(ctx context.Context) (snapshot, error) {
	snap := c.current()
	if c.fresh(snap) {
		return snap, nil
	}
	return c.load(ctx, snap.gen)
}

func (c *KeyCache) fresh(s snapshot) bool {
	return s.set != nil && !s.fetchedAt.IsZero() && c.now().Sub(s.fetchedAt) < c.ttl
}

func (c *KeyCache) install(set jwk.Set, fetchedAt time.Time) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap = snapshot{set: set, fetchedAt: fetchedAt, gen: c.snap.gen + 1}
	return c.snap
}

// load returns a fresh snapshot installed after generation after. A newer
// fresh snapshot already in place is returned without a download. If the
// flight it joined only reused an older set, it goes around once more.
func (c *KeyCache) load(ctx context.Context, after uint64) (snapshot, error) {
	for {
		ch := c.group.DoChan("jwks", func() (any, error) {
			if snap := c.current(); snap.gen > after && c.fresh(snap) {
				return snap, nil
			}
			return c.fetch(context.WithoutCancel(ctx))
		})

		select {
		case <-ctx.Done():
			return snapshot{}, fmt.Errorf("waiting for JWKS: %w", ctx.Err())
		case res := <-ch:
			if res.Err != nil {
				return snapshot{}, res.Err
			}
			snap := res.Val.(snapshot)
			if snap.gen > after {
				return snap, nil
			}
		}
	}
}

func (c *KeyCache) fetch(ctx context.Context) (snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.fetches.Add(1)
	start := c.now()
	set, err := c.fetcher.Fetch(ctx, c.url)
	c.observer.ObserveFetch(c.now().Sub(start), err)
	if err != nil {
		logger.Warn("JWKS fetch failed", "url", c.url, "error", err)
		return snapshot{}, err
	}
	if set == nil {
		return snapshot{}, fmt.Errorf("fetch JWKS from %s: empty response", c.url)
	}

	snap := c.install(set, c.now())
	logger.Debug("JWKS refreshed", "url", c.url, "keys", set.Len(), "generation", snap.gen)
	return snap, nil
}
