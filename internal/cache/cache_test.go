package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

func TestLRUCache_GetPut(t *testing.T) {
	c, err := NewLRUCache(DefaultSize, time.Minute)
	require.NoError(t, err)

	hits, misses := counterValue(cacheHits), counterValue(cacheMisses)

	_, ok := c.Get("Inception")
	assert.False(t, ok)

	c.Put("Inception", "https://image.tmdb.org/t/p/w500/x.jpg", false)
	url, ok := c.Get("Inception")
	assert.True(t, ok)
	assert.Equal(t, "https://image.tmdb.org/t/p/w500/x.jpg", url)
	assert.Equal(t, 1, c.Size())

	assert.Equal(t, 1.0, counterValue(cacheHits)-hits)
	assert.Equal(t, 1.0, counterValue(cacheMisses)-misses)
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, err := NewLRUCache(2, 0)
	require.NoError(t, err)

	c.Put("a", "ua", false)
	c.Put("b", "ub", false)
	_, _ = c.Get("a") // a is now most recent
	c.Put("c", "uc", false)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestLRUCache_Capacity(t *testing.T) {
	c, err := NewLRUCache(DefaultSize, 0)
	require.NoError(t, err)
	for i := 0; i < DefaultSize+10; i++ {
		c.Put(fmt.Sprintf("movie-%d", i), "u", false)
	}
	assert.Equal(t, DefaultSize, c.Size())
}

func TestLRUCache_CapacitySharedByTiers(t *testing.T) {
	c, err := NewLRUCache(DefaultSize, time.Minute)
	require.NoError(t, err)

	for i := 0; i < DefaultSize; i++ {
		c.Put(fmt.Sprintf("fallback-%d", i), "placeholder", true)
	}
	for i := 0; i < DefaultSize; i++ {
		c.Put(fmt.Sprintf("poster-%d", i), "https://img/p.jpg", false)
	}
	assert.Equal(t, DefaultSize, c.Size())

	// fallbacks go first
	_, ok := c.Get("fallback-0")
	assert.False(t, ok)
	_, ok = c.Get("poster-0")
	assert.True(t, ok)

	c.Put("one-more", "https://img/x.jpg", false)
	assert.Equal(t, DefaultSize, c.Size())
	_, ok = c.Get("poster-1")
	assert.False(t, ok, "least recently used poster evicted once no fallback is left")
}

func TestLRUCache_FallbackExpires(t *testing.T) {
	c, err := NewLRUCache(DefaultSize, 50*time.Millisecond)
	require.NoError(t, err)

	before := counterValue(cacheFallbackHits)
	c.Put("Heat", "fallback", true)
	url, ok := c.Get("Heat")
	require.True(t, ok)
	assert.Equal(t, "fallback", url)
	assert.Equal(t, 1.0, counterValue(cacheFallbackHits)-before)

	time.Sleep(100 * time.Millisecond)
	_, ok = c.Get("Heat")
	assert.False(t, ok, "fallback should expire")
}

func TestLRUCache_FallbackDisabled(t *testing.T) {
	c, err := NewLRUCache(DefaultSize, 0)
	require.NoError(t, err)

	c.Put("Heat", "fallback", true)
	_, ok := c.Get("Heat")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Size())
}

func TestLRUCache_SuccessReplacesFallback(t *testing.T) {
	c, err := NewLRUCache(DefaultSize, time.Minute)
	require.NoError(t, err)

	c.Put("Heat", "fallback", true)
	c.Put("Heat", "real", false)
	url, ok := c.Get("Heat")
	require.True(t, ok)
	assert.Equal(t, "real", url)
	assert.Equal(t, 1, c.Size())

	c.Purge()
	assert.Equal(t, 0, c.Size())
}

func TestNewLRUCache_InvalidSize(t *testing.T) {
	_, err := NewLRUCache(0, 0)
	assert.Error(t, err)
}
