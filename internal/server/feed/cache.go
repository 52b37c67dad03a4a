package feed

import (
	"fmt"

	"backfeed/internal/cache"
)

type CacheKey struct {
	Destination string
	Type        string
}

func NewCacheKey(destination, feedType string) CacheKey {
	return CacheKey{
		Destination: destination,
		Type:        feedType,
	}
}

func (k CacheKey) ToString() string {
	return fmt.Sprintf("%s:%s", k.Destination, k.Type)
}

func NewCache(config cache.CacheConfig) *cache.Cache[CacheKey, string] {
	return cache.NewCache[CacheKey, string](config, func(k CacheKey) string {
		return k.ToString()
	})
}

const (
	TypeRSS  = "rss"
	TypeAtom = "atom"
	TypeJSON = "json"
)
