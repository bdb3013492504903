package viewport

import (
	"github.com/local/spreadview/internal/metrics"
	"github.com/local/spreadview/internal/raster"
)

const (
	DefaultCacheCapacity = 36
	DefaultKeepWindow    = 10
)

type cacheEntry struct {
	r     *raster.Raster
	scale float64
}

// Cache memoizes processed rasters by slot. Every entry is produced at the
// same scale; a different scale empties the cache before anything is served.
type Cache struct {
	entries  map[Slot]cacheEntry
	scale    float64
	capacity int
	keep     int
}

// NewCache returns an empty cache. Non-positive arguments fall back to the defaults.
func NewCache(capacity, keep int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if keep <= 0 {
		keep = DefaultKeepWindow
	}
	return &Cache{entries: make(map[Slot]cacheEntry), capacity: capacity, keep: keep}
}

// Len is the number of cached slots.
func (c *Cache) Len() int { return len(c.entries) }

// Scale is the scale every current entry was produced at.
func (c *Cache) Scale() float64 { return c.scale }

// Has reports whether slot is cached at scale.
func (c *Cache) Has(slot Slot, scale float64) bool {
	e, ok := c.entries[slot]
	return ok && !zoomChanged(e.scale, scale) && !zoomChanged(c.scale, scale)
}

// Clear drops every entry.
func (c *Cache) Clear(reason string) {
	if len(c.entries) > 0 {
		c.entries = make(map[Slot]cacheEntry)
	}
	metrics.CacheCleared(reason)
	metrics.SetCacheEntries(0)
}

// ensureScale invalidates the whole cache when the scale moved.
func (c *Cache) ensureScale(scale float64) {
	if zoomChanged(c.scale, scale) {
		if len(c.entries) > 0 {
			c.Clear("scale")
		}
		c.scale = scale
	}
}

// Get returns the raster for slot at scale, calling fill on a miss. page is
// the current page, used to prune far entries when the cache is over
// capacity. Empty rasters from fill are returned but not stored.
func (c *Cache) Get(slot Slot, scale float64, page int, fill func(Slot) *raster.Raster) *raster.Raster {
	c.ensureScale(scale)
	if e, ok := c.entries[slot]; ok {
		metrics.CacheHit()
		return e.r
	}
	metrics.CacheMiss()

	if len(c.entries) > c.capacity {
		c.prune(page)
	}
	r := fill(slot)
	if r.Empty() {
		return r
	}
	c.entries[slot] = cacheEntry{r: r, scale: scale}
	metrics.SetCacheEntries(len(c.entries))
	return r
}

// prune removes entries further than the keep window from page. Blank
// counts as distance zero.
func (c *Cache) prune(page int) int {
	n := 0
	for slot := range c.entries {
		d := 0
		if !slot.IsBlank() {
			d = int(slot) - page
			if d < 0 {
				d = -d
			}
		}
		if d > c.keep {
			delete(c.entries, slot)
			n++
		}
	}
	if n > 0 {
		metrics.CacheEvicted(n)
	}
	return n
}

// slots lists the cached keys; used by tests and state dumps.
func (c *Cache) slots() []Slot {
	out := make([]Slot, 0, len(c.entries))
	for s := range c.entries {
		out = append(out, s)
	}
	return out
}
