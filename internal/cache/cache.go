package cache

import (
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Cache is a typed view over go-cache. Concurrent GetOrLoad calls for the
// same key share one load.
type Cache[K comparable, V any] struct {
	store *gocache.Cache
	key   func(K) string
	ttl   time.Duration
	loads singleflight.Group
}

type CacheConfig struct {
	TTL time.Duration
}

// NewCache builds a TTL cache. Zero TTL means one hour. A negative TTL
// disables caching: every Get misses and Set is a no-op.
func NewCache[K comparable, V any](config CacheConfig, keyToString func(K) string) *Cache[K, V] {
	if config.TTL == 0 {
		config.TTL = time.Hour
	}

	cleanup := config.TTL / 2
	if cleanup <= 0 {
		cleanup = time.Minute
	}

	slog.Debug("Cache initialized", "ttl", config.TTL)

	return &Cache[K, V]{
		store: gocache.New(config.TTL, cleanup),
		key:   keyToString,
		ttl:   config.TTL,
	}
}

func (c *Cache[K, V]) disabled() bool {
	return c.ttl < 0
}

func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c.disabled() {
		return zero, false
	}

	value, found := c.store.Get(c.key(key))
	if !found {
		return zero, false
	}
	typed, ok := value.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

func (c *Cache[K, V]) Set(key K, value V) {
	if c.disabled() {
		return
	}
	c.store.SetDefault(c.key(key), value)
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Errors are not cached.
func (c *Cache[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	k := c.key(key)
	v, err, shared := c.loads.Do(k, func() (interface{}, error) {
		value, err := load()
		if err != nil {
			return nil, err
		}
		c.Set(key, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	if shared {
		slog.Debug("Cache load shared", "key", k)
	}
	return v.(V), nil
}

func (c *Cache[K, V]) Invalidate(key K) {
	c.store.Delete(c.key(key))
}

func (c *Cache[K, V]) Len() int {
	return c.store.ItemCount()
}
