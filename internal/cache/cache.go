// Package cache memoizes resolved poster URLs by movie title.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultSize is the number of titles kept across both tiers.
const DefaultSize = 128

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marquee_poster_cache_hits_total",
		Help: "Poster lookups answered from the cache",
	})
	cacheFallbackHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marquee_poster_cache_fallback_hits_total",
		Help: "Poster lookups answered with a cached fallback",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marquee_poster_cache_misses_total",
		Help: "Poster lookups that required a catalog fetch",
	})
)

// PosterCache defines the cache used by the catalog client.
type PosterCache interface {
	// Get retrieves the poster URL cached for title.
	Get(title string) (string, bool)
	// Put stores a resolved URL. Fallback URLs may be kept for a shorter time.
	Put(title, url string, fallback bool)
	// Size returns the number of cached titles.
	Size() int
	// Purge drops every entry.
	Purge()
}

// LRUCache keeps resolved posters in an LRU ordered by access. Fallback
// results live in a separate LRU whose entries expire after a TTL, so a
// transient outage does not pin the placeholder to a title.
type LRUCache struct {
	size      int
	posters   *lru.Cache[string, string]
	fallbacks *expirable.LRU[string, string]
}

// NewLRUCache creates a cache holding up to size titles in total. When full,
// the oldest fallback is evicted before any resolved poster. A zero
// fallbackTTL disables caching of fallback results.
func NewLRUCache(size int, fallbackTTL time.Duration) (*LRUCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache: invalid size %d", size)
	}
	posters, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	c := &LRUCache{size: size, posters: posters}
	if fallbackTTL > 0 {
		c.fallbacks = expirable.NewLRU[string, string](size, nil, fallbackTTL)
	}
	return c, nil
}

func (c *LRUCache) Get(title string) (string, bool) {
	if url, ok := c.posters.Get(title); ok {
		cacheHits.Inc()
		return url, true
	}
	if c.fallbacks != nil {
		if url, ok := c.fallbacks.Get(title); ok {
			cacheFallbackHits.Inc()
			return url, true
		}
	}
	cacheMisses.Inc()
	return "", false
}

func (c *LRUCache) Put(title, url string, fallback bool) {
	if !fallback {
		if c.fallbacks != nil {
			c.fallbacks.Remove(title)
		}
		c.posters.Add(title, url)
		c.evict()
		return
	}
	c.posters.Remove(title)
	if c.fallbacks != nil {
		c.fallbacks.Add(title, url)
		c.evict()
	}
}

func (c *LRUCache) evict() {
	for c.Size() > c.size {
		if c.fallbacks != nil && c.fallbacks.Len() > 0 {
			c.fallbacks.RemoveOldest()
			continue
		}
		c.posters.RemoveOldest()
	}
}

func (c *LRUCache) Size() int {
	n := c.posters.Len()
	if c.fallbacks != nil {
		n += c.fallbacks.Len()
	}
	return n
}

func (c *LRUCache) Purge() {
	c.posters.Purge()
	if c.fallbacks != nil {
		c.fallbacks.Purge()
	}
}
