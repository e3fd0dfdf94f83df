package license

import (
	"sync"
	"time"

	"keyledger/pkg/contracts/domain"
)

// cacheEntry is a cached entitlement lookup. A nil entitlement records that
// the subject has none.
type cacheEntry struct {
	entitlement *domain.Entitlement
	cachedAt    time.Time
	expiresAt   time.Time
	hitCount    int
}

// EntitlementCache caches entitlement records per subject. It stores the
// record rather than a yes/no answer so expiry is always evaluated against
// the caller's clock.
type EntitlementCache struct {
	entries    map[string]cacheEntry
	generation uint64
	mutex      sync.RWMutex
	ttl        time.Duration
	maxSize    int
	hitCount   int64
	missCount  int64
	clock      func() time.Time
	stopChan   chan struct{}
	stopOnce   sync.Once
}

// NewEntitlementCache creates a cache and starts its cleanup goroutine
func NewEntitlementCache(ttl time.Duration, maxSize int) *EntitlementCache {
	cache := &EntitlementCache{
		entries:  make(map[string]cacheEntry),
		ttl:      ttl,
		maxSize:  maxSize,
		clock:    time.Now,
		stopChan: make(chan struct{}),
	}

	if ttl > 0 {
		go cache.cleanup()
	}

	return cache
}

// Get returns the cached entitlement for subject. found is false on a miss.
func (c *EntitlementCache) Get(subjectID string) (ent *domain.Entitlement, found bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, exists := c.entries[subjectID]
	if !exists || !c.clock().Before(entry.expiresAt) {
		c.missCount++
		return nil, false
	}

	entry.hitCount++
	c.entries[subjectID] = entry
	c.hitCount++

	return copyEntitlement(entry.entitlement), true
}

// Generation returns the invalidation counter. Read it before loading from
// the store and pass it to SetIfCurrent so a load that raced with an
// invalidation is discarded.
func (c *EntitlementCache) Generation() uint64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.generation
}

// SetIfCurrent stores ent unless an invalidation happened since generation was read
func (c *EntitlementCache) SetIfCurrent(subjectID string, ent *domain.Entitlement, generation uint64) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.maxSize <= 0 || c.ttl <= 0 {
		return false
	}
	if c.generation != generation {
		return false
	}

	if _, exists := c.entries[subjectID]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	now := c.clock()
	c.entries[subjectID] = cacheEntry{
		entitlement: copyEntitlement(ent),
		cachedAt:    now,
		expiresAt:   now.Add(c.ttl),
	}
	return true
}

// Invalidate drops subject from the cache and bumps the generation
func (c *EntitlementCache) Invalidate(subjectID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.entries, subjectID)
	c.generation++
}

// GetStats returns cache statistics
func (c *EntitlementCache) GetStats() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	totalRequests := c.hitCount + c.missCount
	hitRatio := float64(0)
	if totalRequests > 0 {
		hitRatio = float64(c.hitCount) / float64(totalRequests)
	}

	return map[string]interface{}{
		"entries":     len(c.entries),
		"max_size":    c.maxSize,
		"hit_count":   c.hitCount,
		"miss_count":  c.missCount,
		"hit_ratio":   hitRatio,
		"ttl_seconds": c.ttl.Seconds(),
	}
}

func (c *EntitlementCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.cachedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (c *EntitlementCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *EntitlementCache) cleanup() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopChan:
			return
		}
	}
}

func (c *EntitlementCache) purgeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.clock()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func copyEntitlement(ent *domain.Entitlement) *domain.Entitlement {
	if ent == nil {
		return nil
	}
	cp := *ent
	if ent.ExpiresAt != nil {
		exp := *ent.ExpiresAt
		cp.ExpiresAt = &exp
	}
	return &cp
}
