package policy

import (
	"sync"
	"time"
)

// cacheTTL is how long a tenant's loaded rule set stays fresh before the
// next evaluation triggers a reload.
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	rules    []Rule
	loadedAt time.Time
}

// Cache is the Policy Rule Cache: per-tenant enabled rules, loaded from the
// Store on first evaluation and refreshed once stale. Exclusively owned by
// the Policy Engine; an RWMutex guards the per-tenant entries, and a reload
// replaces an entry in one assignment.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	store   Store
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a Policy Rule Cache backed by store.
func NewCache(store Store) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		store:   store,
		ttl:     cacheTTL,
		now:     time.Now,
	}
}

// Rules returns the enabled rule set for tenantID, reloading from the
// store if the cached entry is missing or older than the TTL. Readers
// observe either the prior state or the fully-loaded new state, never a
// partial replacement (write happens under the exclusive lock as one
// assignment).
func (c *Cache) Rules(tenantID string) ([]Rule, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()

	if ok && now.Sub(entry.loadedAt) < c.ttl {
		return entry.rules, nil
	}

	rules, err := c.store.LoadEnabledRules(tenantID)
	if err != nil {
		// Stale-but-present beats no data on a reload failure; only fail
		// outright if we never had anything cached.
		if ok {
			return entry.rules, nil
		}
		return nil, err
	}

	c.mu.Lock()
	c.entries[tenantID] = cacheEntry{rules: rules, loadedAt: now}
	c.mu.Unlock()

	return rules, nil
}

// Invalidate drops the cached entry for tenantID, forcing a reload on the
// next Rules call. Called by Engine.InvalidateTenant.
func (c *Cache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tenantID)
}
