package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/billhawk/billhawk/events/internal/metrics"
	"github.com/billhawk/billhawk/events/internal/model"
)

// DefaultCacheTTL is how long a resolved metric is served from memory.
const DefaultCacheTTL = 30 * time.Second

type cachedMetric struct {
	metric    *model.BillableMetric
	expiresAt time.Time
}

// CachedResolver serves metrics from a TTL cache in front of another
// Resolver. Concurrent misses for the same key share one lookup. Misses
// (ErrMetricNotFound) are never cached, so a metric created after an event
// was dead-lettered is picked up by the next event.
type CachedResolver struct {
	next  Resolver
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu      sync.RWMutex
	entries map[metricKey]cachedMetric
}

// NewCachedResolver wraps next. A non-positive ttl uses DefaultCacheTTL.
func NewCachedResolver(next Resolver, ttl time.Duration) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedResolver{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[metricKey]cachedMetric),
	}
}

// flightKey is unambiguous for any pair since the quoted org ends at its
// closing quote.
func (k metricKey) flightKey() string {
	return strconv.Quote(k.organizationID) + k.code
}

func (c *CachedResolver) Resolve(ctx context.Context, organizationID, code string) (*model.BillableMetric, error) {
	key := metricKey{organizationID, code}

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		metrics.MetricCacheRequests.WithLabelValues(metrics.CacheHit).Inc()
		return e.metric, nil
	}
	metrics.MetricCacheRequests.WithLabelValues(metrics.CacheMiss).Inc()

	v, err, _ := c.group.Do(key.flightKey(), func() (any, error) {
		m, err := c.next.Resolve(ctx, organizationID, code)
		if err != nil {
			if errors.Is(err, ErrMetricNotFound) {
				c.drop(key)
			}
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cachedMetric{metric: m, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.BillableMetric), nil
}

func (c *CachedResolver) drop(key metricKey) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Invalidate forgets the cached metric for (organizationID, code).
func (c *CachedResolver) Invalidate(organizationID, code string) {
	c.drop(metricKey{organizationID, code})
}

// Purge empties the cache.
func (c *CachedResolver) Purge() {
	c.mu.Lock()
	c.entries = make(map[metricKey]cachedMetric)
	c.mu.Unlock()
}

// Len returns the number of cached entries, expired ones included.
func (c *CachedResolver) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
