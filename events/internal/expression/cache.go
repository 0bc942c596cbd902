package expression

import (
	"sync"
)

// DefaultCacheSize bounds the number of compiled programs kept in memory.
const DefaultCacheSize = 10000

type cacheKey struct {
	metricID   string
	expression string
}

type cacheEntry struct {
	program *Program
	err     error
}

// Cache holds compiled programs keyed by (metric id, expression text). A
// syntax error is cached too, so a broken formula is parsed once per metric.
// Editing a metric's expression produces a new key.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	limit   int
}

// NewCache creates a cache holding at most limit entries. A non-positive
// limit uses DefaultCacheSize.
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = DefaultCacheSize
	}
	return &Cache{entries: make(map[cacheKey]cacheEntry), limit: limit}
}

// Get returns the compiled program for the metric's expression, compiling it
// on first use.
func (c *Cache) Get(metricID, expression string) (*Program, error) {
	key := cacheKey{metricID: metricID, expression: expression}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e.program, e.err
	}

	prog, err := Compile(expression)
	e = cacheEntry{program: prog, err: err}

	c.mu.Lock()
	if existing, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return existing.program, existing.err
	}
	if len(c.entries) >= c.limit {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[key] = e
	c.mu.Unlock()

	return prog, err
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
