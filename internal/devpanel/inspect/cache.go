package inspect

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

const maxListedKeys = 20

// CacheInfo is the read-only view of a cache shown by the cache inspector.
type CacheInfo interface {
	Name() string
	Capacity() int
	Len() int
	KeyStrings(limit int) []string
	Stats() CacheStats
}

// CacheStats counts cache traffic since creation.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// NamedCache is an LRU cache that keeps hit/miss/eviction counters. Only
// entries pushed out by capacity count as evictions; Remove and Purge do not.
type NamedCache[K comparable, V any] struct {
	name      string
	capacity  int
	cache     *lru.Cache[K, V]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// NewNamedCache creates a cache holding up to size entries.
func NewNamedCache[K comparable, V any](name string, size int) (*NamedCache[K, V], error) {
	c := &NamedCache[K, V]{name: name, capacity: size}
	cache, err := lru.New[K, V](size)
	if err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	c.cache = cache
	return c, nil
}

// Get looks up key and counts the hit or miss.
func (c *NamedCache[K, V]) Get(key K) (V, bool) {
	value, ok := c.cache.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return value, ok
}

// Add stores value and reports whether an entry was evicted.
func (c *NamedCache[K, V]) Add(key K, value V) bool {
	evicted := c.cache.Add(key, value)
	if evicted {
		c.evictions.Add(1)
	}
	return evicted
}

// Remove drops key.
func (c *NamedCache[K, V]) Remove(key K) {
	c.cache.Remove(key)
}

// Purge empties the cache.
func (c *NamedCache[K, V]) Purge() {
	c.cache.Purge()
}

func (c *NamedCache[K, V]) Name() string  { return c.name }
func (c *NamedCache[K, V]) Capacity() int { return c.capacity }
func (c *NamedCache[K, V]) Len() int      { return c.cache.Len() }

// KeyStrings returns up to limit keys, most recently used first.
func (c *NamedCache[K, V]) KeyStrings(limit int) []string {
	keys := c.cache.Keys()
	out := make([]string, 0, min(len(keys), max(limit, 0)))
	for i := len(keys) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, fmt.Sprint(keys[i]))
	}
	return out
}

func (c *NamedCache[K, V]) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Evictions: c.evictions.Load()}
}

// CacheInspector lists the caches registered by the application.
type CacheInspector struct {
	mu     sync.RWMutex
	caches map[string]CacheInfo
}

// NewCacheInspector returns an inspector over caches.
func NewCacheInspector(caches ...CacheInfo) *CacheInspector {
	ci := &CacheInspector{caches: map[string]CacheInfo{}}
	for _, c := range caches {
		ci.Track(c)
	}
	return ci
}

// Track adds a cache. A cache with the same name replaces the previous one.
func (ci *CacheInspector) Track(c CacheInfo) {
	if c == nil {
		return
	}
	ci.mu.Lock()
	ci.caches[c.Name()] = c
	ci.mu.Unlock()
}

func (ci *CacheInspector) Key() string  { return "Framework Caches" }
func (ci *CacheInspector) Icon() string { return "globe-lock" }

func (ci *CacheInspector) Inspect(context.Context) (View, error) {
	ci.mu.RLock()
	caches := make([]CacheInfo, 0, len(ci.caches))
	for _, c := range ci.caches {
		caches = append(caches, c)
	}
	ci.mu.RUnlock()
	sort.Slice(caches, func(i, j int) bool { return caches[i].Name() < caches[j].Name() })

	view := View{Title: "Framework Caches"}
	if len(caches) == 0 {
		view.Sections = append(view.Sections, Section{Title: "Caches", Note: "no caches registered"})
		return view, nil
	}

	summary := &Table{Columns: []string{"Cache", "Entries", "Capacity", "Hits", "Misses", "Evictions", "Hit rate"}}
	for _, c := range caches {
		stats := c.Stats()
		summary.Rows = append(summary.Rows, []string{
			c.Name(),
			strconv.Itoa(c.Len()),
			strconv.Itoa(c.Capacity()),
			strconv.FormatUint(stats.Hits, 10),
			strconv.FormatUint(stats.Misses, 10),
			strconv.FormatUint(stats.Evictions, 10),
			fmt.Sprintf("%.1f%%", stats.HitRate()*100),
		})
	}
	view.Sections = append(view.Sections, Section{Title: "Caches", Table: summary})

	for _, c := range caches {
		keys := c.KeyStrings(maxListedKeys)
		section := Section{Title: c.Name() + " keys"}
		if len(keys) == 0 {
			section.Note = "empty"
		} else {
			section.Note = strings.Join(keys, "\n")
			if c.Len() > len(keys) {
				section.Note += fmt.Sprintf("\n… %d more", c.Len()-len(keys))
			}
		}
		view.Sections = append(view.Sections, section)
	}
	return view, nil
}

var _ Inspector = (*CacheInspector)(nil)
