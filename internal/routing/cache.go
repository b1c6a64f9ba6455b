package routing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-matching/internal/collab"
	"github.com/example/ride-matching/internal/models"
)

// Cache is a tiny in-memory cache for distance lookups keyed by coords.
type Cache struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	v  float64
	ts time.Time
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{store: make(map[string]cacheEntry), ttl: ttl}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (float64, bool) {
	k := keyFor(a, b)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, k)
		c.mu.Unlock()
		return 0, false
	}
	return e.v, true
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v float64) {
	k := keyFor(a, b)
	c.mu.Lock()
	c.store[k] = cacheEntry{v: v, ts: time.Now()}
	c.mu.Unlock()
}

// CachedDistance memoises road distances. Pooling checks ask for the same
// reference legs for every candidate request.
type CachedDistance struct {
	Next  collab.RouteDistanceProvider
	Cache *Cache
}

func (c CachedDistance) Distance(ctx context.Context, a, b models.Coord) (float64, error) {
	if v, ok := c.Cache.Get(a, b); ok {
		return v, nil
	}
	v, err := c.Next.Distance(ctx, a, b)
	if err != nil {
		return 0, err
	}
	c.Cache.Set(a, b, v)
	return v, nil
}
