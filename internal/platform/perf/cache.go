package perf

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/ehrsync/internal/domain/resource"
)

type cacheEntry struct {
	orgID        uuid.UUID
	resourceType string
	data         resource.Payload
	expiresAt    time.Time
	accessCount  int64
	lastAccessed time.Time
}

// Cache is a TTL cache of fetched resource payloads keyed by
// (organization, resource type, resource id). It is best effort: a miss or
// a disabled cache changes latency, never correctness. State is process
// local and rebuilt empty on restart.
type Cache struct {
	enabled bool
	ttl     time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry
	hits    int64
	misses  int64
	now     func() time.Time
}

// NewCache builds a Cache with the given TTL. A disabled cache stores
// nothing and always misses.
func NewCache(enabled bool, ttl time.Duration) *Cache {
	return &Cache{
		enabled: enabled,
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(orgID uuid.UUID, resourceType, resourceID string) string {
	return orgID.String() + "/" + resourceType + "/" + resourceID
}

// Put stores a payload until TTL expiry.
func (c *Cache) Put(orgID uuid.UUID, resourceType, resourceID string, data resource.Payload) {
	if !c.enabled {
		return
	}
	now := c.now()
	c.mu.Lock()
	c.entries[cacheKey(orgID, resourceType, resourceID)] = &cacheEntry{
		orgID:        orgID,
		resourceType: resourceType,
		data:         data,
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}
	c.mu.Unlock()
}

// Get returns the cached payload if present and unexpired. Expired entries
// are removed on access and reported as misses.
func (c *Cache) Get(orgID uuid.UUID, resourceType, resourceID string) (resource.Payload, bool) {
	if !c.enabled {
		return nil, false
	}
	key := cacheKey(orgID, resourceType, resourceID)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if now.After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	e.accessCount++
	e.lastAccessed = now
	c.hits++
	return e.data, true
}

// Clear removes entries matching the filters and returns the count removed.
// uuid.Nil matches every organization, "" matches every resource type.
func (c *Cache) Clear(orgID uuid.UUID, resourceType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if orgID != uuid.Nil && e.orgID != orgID {
			continue
		}
		if resourceType != "" && e.resourceType != resourceType {
			continue
		}
		delete(c.entries, key)
		removed++
	}
	return removed
}

// Sweep removes expired entries and returns the count removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if !c.enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Size returns the number of live entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HitStats returns cumulative hit and miss counts.
func (c *Cache) HitStats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
