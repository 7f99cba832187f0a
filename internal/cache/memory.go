package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process Cache. Expired entries are dropped lazily.
type MemoryCache struct {
	prefix  string
	entries map[string]memoryEntry
	mutex   sync.RWMutex
	now     func() time.Time
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache(prefix string) *MemoryCache {
	return &MemoryCache{
		prefix:  prefix,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	k := buildKey(c.prefix, key)

	c.mutex.RLock()
	entry, ok := c.entries[k]
	c.mutex.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.mutex.Lock()
		if current, ok := c.entries[k]; ok && current.expiresAt.Equal(entry.expiresAt) {
			delete(c.entries, k)
		}
		c.mutex.Unlock()
		return nil, false, nil
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

// Set stores value; a non-positive ttl never expires.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mutex.Lock()
	c.entries[buildKey(c.prefix, key)] = entry
	c.mutex.Unlock()
	return nil
}

// Flush removes every entry under the cache prefix.
func (c *MemoryCache) Flush(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for k := range c.entries {
		if c.prefix == "" || strings.HasPrefix(k, c.prefix+"/") {
			delete(c.entries, k)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) Close() error {
	return nil
}
