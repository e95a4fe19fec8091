package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options configures a TTL cache.
type Options struct {
	TTL         time.Duration
	NegativeTTL time.Duration
	MaxEntries  int
}

type entry struct {
	value     interface{}
	err       error
	expiresAt time.Time
	negative  bool
	lastUsed  time.Time
}

// Cache is a small in-process TTL cache with singleflight loading, used for
// read-mostly lookups such as owner platform connections. Negative results
// (lookup succeeded, nothing found) are cached with their own, shorter TTL.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry
	opts  Options
	sf    singleflight.Group
}

func New(opts Options) *Cache {
	if opts.MaxEntries == 0 {
		opts.MaxEntries = 1024
	}
	return &Cache{
		items: make(map[string]*entry),
		opts:  opts,
	}
}

// Loader fetches the value for a key on cache miss. ok=false marks a
// negative result.
type Loader func(ctx context.Context, key string) (interface{}, bool, error)

type loadResult struct {
	val interface{}
	ok  bool
}

// Get returns the cached value for key, loading it through loader on miss.
// Concurrent misses for the same key share one loader call. Loader errors are
// never cached.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, bool, error) {
	now := time.Now()
	c.mu.RLock()
	if e, ok := c.items[key]; ok && now.Before(e.expiresAt) {
		e.lastUsed = now
		c.mu.RUnlock()
		return e.value, !e.negative, e.err
	}
	c.mu.RUnlock()

	res, err, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		if err != nil {
			return nil, err
		}
		c.store(key, val, ok)
		return loadResult{val: val, ok: ok}, nil
	})
	if err != nil {
		return nil, false, err
	}
	lr := res.(loadResult)
	return lr.val, lr.ok, nil
}

// Invalidate drops a key, forcing the next Get to reload.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *Cache) store(key string, val interface{}, ok bool) {
	now := time.Now()
	ttl := c.opts.TTL
	if !ok && c.opts.NegativeTTL > 0 {
		ttl = c.opts.NegativeTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.opts.MaxEntries {
		c.evictOldestLocked()
	}
	c.items[key] = &entry{
		value:     val,
		expiresAt: now.Add(ttl),
		negative:  !ok,
		lastUsed:  now,
	}
}

func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.items {
		if oldestKey == "" || e.lastUsed.Before(oldest) {
			oldestKey = k
			oldest = e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}
