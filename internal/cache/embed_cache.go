package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// EmbedCache is a bounded in-memory cache for query embeddings, keyed
// by the raw query text. Entries expire after the configured TTL; when
// the entry count exceeds maxEntries the oldest inserted key is
// evicted. Concurrent writes for the same key may race; last write
// wins, which is harmless because the value is deterministic for a
// given key.
type EmbedCache struct {
	cache      *gocache.Cache
	maxEntries int

	mu    sync.Mutex
	order []string
}

func NewEmbedCache(maxEntries int, ttl time.Duration) *EmbedCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &EmbedCache{
		cache:      gocache.New(ttl, ttl),
		maxEntries: maxEntries,
	}
}

func (c *EmbedCache) Get(query string) ([]float32, bool) {
	if val, found := c.cache.Get(query); found {
		return val.([]float32), true
	}
	return nil, false
}

func (c *EmbedCache) Put(query string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, found := c.cache.Get(query); !found {
		c.order = append(c.order, query)
	}
	c.cache.SetDefault(query, vec)

	for len(c.order) > c.maxEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.cache.Delete(oldest)
	}
}

func (c *EmbedCache) Len() int {
	return c.cache.ItemCount()
}
