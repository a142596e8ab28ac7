package cache

import (
	"sync"
	"time"

	"github.com/honeynil/payflow/internal/models"
)

// StatusCache holds derived payment-status views. Entries are disposable:
// losing the cache only costs a store query on the next status lookup.
type StatusCache interface {
	Get(key string) (models.StatusSummary, bool)
	Set(key string, value models.StatusSummary, ttl time.Duration)
	Delete(key string)
	Clear()
}

type entry struct {
	value     models.StatusSummary
	expiresAt time.Time // zero means no expiry
}

// MemoryCache is a process-local StatusCache backed by a mutex-guarded map.
// Expired entries are evicted lazily when read; CleanExpired sweeps the rest.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry)}
}

func (c *MemoryCache) Get(key string) (models.StatusSummary, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return models.StatusSummary{}, false
	}
	if e.expiresAt.IsZero() || time.Now().Before(e.expiresAt) {
		return e.value, true
	}

	// Expired: evict, re-checking under the write lock since a concurrent
	// Set may have refreshed the entry in the meantime.
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && !cur.expiresAt.IsZero() && !time.Now().Before(cur.expiresAt) {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return models.StatusSummary{}, false
}

// Set stores value under key. A zero ttl means the entry never expires.
func (c *MemoryCache) Set(key string, value models.StatusSummary, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: expiresAt}
	c.mu.Unlock()
}

func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

// Len reports the number of entries, including not-yet-swept expired ones.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CleanExpired removes every expired entry. Callers that care about memory
// bounds can run this periodically; correctness never depends on it.
func (c *MemoryCache) CleanExpired() {
	now := time.Now()
	c.mu.Lock()
	for key, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}
