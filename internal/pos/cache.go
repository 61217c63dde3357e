package pos

import (
	"sync"
	"sync/atomic"

	"github.com/kiosklab/posbox/internal/models"
)

// defaultCacheSize bounds the in-memory read cache.
const defaultCacheSize = 1024

// cacheStats счетчики попаданий/промахов кэша
type cacheStats struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

func (s *cacheStats) Snapshot() (hits, misses uint64) {
	return s.hits.Load(), s.misses.Load()
}

// docCache is the bounded read-through cache of the store, keyed by
// "collection:id". It is invalidated on every write and delete that goes
// through the store and is never exposed outside of it.
type docCache struct {
	mu    sync.RWMutex
	docs  map[string]models.Document
	max   int
	stats *cacheStats
}

func newDocCache(max int) *docCache {
	if max <= 0 {
		max = defaultCacheSize
	}
	return &docCache{
		docs:  make(map[string]models.Document),
		max:   max,
		stats: &cacheStats{},
	}
}

func cacheKey(collection, id string) string {
	return collection + ":" + id
}

func (c *docCache) Get(collection, id string) (models.Document, bool) {
	c.mu.RLock()
	doc, ok := c.docs[cacheKey(collection, id)]
	c.mu.RUnlock()

	if ok {
		c.stats.hits.Add(1)
		return doc, true
	}
	c.stats.misses.Add(1)
	return nil, false
}

func (c *docCache) Set(collection, id string, doc models.Document) {
	if id == "" {
		return
	}
	c.mu.Lock()
	if len(c.docs) >= c.max {
		// Простое вытеснение: сбрасываем произвольную запись.
		// При нашем размере кэша честный LRU не окупается.
		for k := range c.docs {
			delete(c.docs, k)
			break
		}
	}
	c.docs[cacheKey(collection, id)] = doc
	c.mu.Unlock()
}

func (c *docCache) Evict(collection, id string) {
	c.mu.Lock()
	delete(c.docs, cacheKey(collection, id))
	c.mu.Unlock()
}

func (c *docCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Stats returns cache hit/miss counters for logs and diagnostics.
func (c *docCache) Stats() (hits, misses uint64) {
	return c.stats.Snapshot()
}
