package quota

import (
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/nhalm/keyquota/metrics"
)

type cacheEntry[T any] struct {
	value   T
	expires time.Time
}

// cache is a bounded read-through cache keyed by entity id. A nil *cache is
// valid and caches nothing.
type cache[T any] struct {
	name    string
	lru     *lru.Cache
	ttl     time.Duration
	now     func() time.Time
	clone   func(T) T
	metrics *metrics.Metrics
}

func newCache[T any](name string, size int, ttl time.Duration, now func() time.Time, clone func(T) T, m *metrics.Metrics) *cache[T] {
	if size <= 0 {
		return nil
	}
	l, err := lru.New(size)
	if err != nil {
		return nil
	}
	return &cache[T]{name: name, lru: l, ttl: ttl, now: now, clone: clone, metrics: m}
}

func (c *cache[T]) get(id string) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	v, ok := c.lru.Get(id)
	if !ok {
		c.metrics.CacheMiss(c.name)
		return zero, false
	}
	entry := v.(cacheEntry[T])
	if c.ttl > 0 && !c.now().Before(entry.expires) {
		c.lru.Remove(id)
		c.metrics.CacheMiss(c.name)
		return zero, false
	}
	c.metrics.CacheHit(c.name)
	return c.clone(entry.value), true
}

func (c *cache[T]) add(id string, v T) {
	if c == nil {
		return
	}
	c.lru.Add(id, cacheEntry[T]{value: c.clone(v), expires: c.now().Add(c.ttl)})
}

func (c *cache[T]) remove(id string) {
	if c == nil {
		return
	}
	c.lru.Remove(id)
}

func (c *cache[T]) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
