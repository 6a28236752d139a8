// Package cache holds a URL-keyed, time-bounded cache of textual DOM
// summaries so the adaptive orchestrator and element discovery can
// avoid re-extracting the same page structure on every step (spec §4.4).
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/adaptiveqa/browserpilot/core"
)

// Config bounds a DOMCache (spec §4.4).
type Config struct {
	MaxEntries    int
	TTL           time.Duration
	MaxEntryBytes int // 0 means unbounded
}

// Stats is a point-in-time snapshot of cache occupancy and hit/miss
// counters, returned by Stats().
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	Evictions int64
}

type entry struct {
	url      string
	text     string
	storedAt time.Time
	listElem *list.Element
}

// DOMCache is an LRU cache with an additional TTL check on read,
// grounded on core/memory_store.go's expiry bookkeeping
// (map + RWMutex + per-entry timestamp) with LRU eviction layered on
// via container/list (spec §4.4; no pack example implements an LRU, so
// this uses the standard library's doubly-linked list rather than
// pulling in a third-party dependency for ~40 lines of bookkeeping).
type DOMCache struct {
	mu     sync.Mutex
	config Config
	lru    *list.List // front = most recently used
	byURL  map[string]*entry
	logger core.Logger

	hits, misses, evictions int64
}

// New constructs a DOMCache. A nil logger installs core.NoOpLogger.
func New(config Config, logger core.Logger) *DOMCache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = core.DefaultDOMCacheMaxItems
	}
	if config.TTL <= 0 {
		config.TTL = core.DefaultDOMCacheTTL
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestrator/cache")
	}

	return &DOMCache{
		config: config,
		lru:    list.New(),
		byURL:  make(map[string]*entry),
		logger: logger,
	}
}

// Set inserts or replaces the DOM summary for url. It rejects entries
// larger than MaxEntryBytes (when set), then evicts least-recently-used
// entries until the cache is at or under MaxEntries (spec §4.4).
func (c *DOMCache) Set(url, text string) bool {
	if c.config.MaxEntryBytes > 0 && len(text) > c.config.MaxEntryBytes {
		c.logger.Debug("dom cache entry rejected: exceeds max entry bytes", map[string]interface{}{"url": url, "size": len(text)})
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.byURL[url]; ok {
		existing.text = text
		existing.storedAt = time.Now()
		c.lru.MoveToFront(existing.listElem)
		return true
	}

	e := &entry{url: url, text: text, storedAt: time.Now()}
	e.listElem = c.lru.PushFront(e)
	c.byURL[url] = e

	for len(c.byURL) > c.config.MaxEntries {
		c.evictOldest()
	}
	return true
}

// evictOldest removes the least-recently-used entry. Caller must hold mu.
func (c *DOMCache) evictOldest() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	victim := back.Value.(*entry)
	c.lru.Remove(back)
	delete(c.byURL, victim.url)
	c.evictions++
}

// Get returns the cached text for url if present and not expired,
// refreshing its LRU position. A missing or expired entry is removed
// and reported as a miss (spec §4.4).
func (c *DOMCache) Get(url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byURL[url]
	if !ok {
		c.misses++
		return "", false
	}
	if time.Since(e.storedAt) > c.config.TTL {
		c.lru.Remove(e.listElem)
		delete(c.byURL, url)
		c.misses++
		return "", false
	}

	c.lru.MoveToFront(e.listElem)
	c.hits++
	return e.text, true
}

// Has reports whether url has a live (non-expired) entry, without
// affecting LRU order or hit/miss counters.
func (c *DOMCache) Has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byURL[url]
	if !ok {
		return false
	}
	return time.Since(e.storedAt) <= c.config.TTL
}

// Remove deletes url's entry, if any.
func (c *DOMCache) Remove(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byURL[url]
	if !ok {
		return
	}
	c.lru.Remove(e.listElem)
	delete(c.byURL, url)
}

// Clear empties the cache without resetting hit/miss/eviction counters.
func (c *DOMCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru = list.New()
	c.byURL = make(map[string]*entry)
}

// Stats returns current occupancy and cumulative counters.
func (c *DOMCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.byURL),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// CleanupExpired removes every entry whose age exceeds TTL and returns
// the number removed (spec §4.4).
func (c *DOMCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for url, e := range c.byURL {
		if time.Since(e.storedAt) > c.config.TTL {
			c.lru.Remove(e.listElem)
			delete(c.byURL, url)
			removed++
		}
	}
	return removed
}
