package runner

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache remembers recently extracted fields per (site, item) so repeated
// jobs inside the TTL window skip the browser entirely.
type Cache struct {
	lru *expirable.LRU[string, map[string]any]
}

// NewCache builds a bounded cache. maxEntries <= 0 disables caching.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries <= 0 {
		return &Cache{}
	}
	return &Cache{lru: expirable.NewLRU[string, map[string]any](maxEntries, nil, ttl)}
}

func cacheKey(site, sku string) string { return site + "\x00" + sku }

// Get returns the cached fields for one item on one site.
func (c *Cache) Get(site, sku string) (map[string]any, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	return c.lru.Get(cacheKey(site, sku))
}

// Put stores extracted fields.
func (c *Cache) Put(site, sku string, fields map[string]any) {
	if c == nil || c.lru == nil || len(fields) == 0 {
		return
	}
	c.lru.Add(cacheKey(site, sku), fields)
}
