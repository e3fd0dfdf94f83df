package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyledger/pkg/contracts/domain"
)

func TestEntitlementCacheGetSet(t *testing.T) {
	cache := NewEntitlementCache(time.Minute, 10)
	defer cache.Stop()

	_, found := cache.Get("u1")
	assert.False(t, found)

	expires := daysAfter(baseTime, 7)
	ent := &domain.Entitlement{SubjectID: "u1", ExpiresAt: &expires}
	require.True(t, cache.SetIfCurrent("u1", ent, cache.Generation()))

	got, found := cache.Get("u1")
	require.True(t, found)
	assert.Equal(t, ent, got)

	// Returned records are copies
	got.ExpiresAt = nil
	again, _ := cache.Get("u1")
	assert.NotNil(t, again.ExpiresAt)

	stats := cache.GetStats()
	assert.Equal(t, int64(2), stats["hit_count"])
	assert.Equal(t, int64(1), stats["miss_count"])
}

func TestEntitlementCacheCachesAbsence(t *testing.T) {
	cache := NewEntitlementCache(time.Minute, 10)
	defer cache.Stop()

	require.True(t, cache.SetIfCurrent("ghost", nil, cache.Generation()))
	got, found := cache.Get("ghost")
	assert.True(t, found)
	assert.Nil(t, got)
}

func TestEntitlementCacheExpiry(t *testing.T) {
	clock := newFakeClock(baseTime)
	cache := NewEntitlementCache(time.Minute, 10)
	defer cache.Stop()
	cache.clock = clock.Now

	cache.SetIfCurrent("u1", &domain.Entitlement{SubjectID: "u1"}, cache.Generation())
	clock.Advance(59 * time.Second)
	_, found := cache.Get("u1")
	assert.True(t, found)

	clock.Advance(time.Second)
	_, found = cache.Get("u1")
	assert.False(t, found)

	cache.purgeExpired()
	assert.Equal(t, 0, cache.GetStats()["entries"])
}

func TestEntitlementCacheStaleLoadDiscarded(t *testing.T) {
	cache := NewEntitlementCache(time.Minute, 10)
	defer cache.Stop()

	generation := cache.Generation()
	cache.Invalidate("u1")

	assert.False(t, cache.SetIfCurrent("u1", &domain.Entitlement{SubjectID: "u1"}, generation))
	_, found := cache.Get("u1")
	assert.False(t, found)

	assert.True(t, cache.SetIfCurrent("u1", &domain.Entitlement{SubjectID: "u1"}, cache.Generation()))
}

func TestEntitlementCacheEviction(t *testing.T) {
	clock := newFakeClock(baseTime)
	cache := NewEntitlementCache(time.Hour, 2)
	defer cache.Stop()
	cache.clock = clock.Now

	for _, subject := range []string{"a", "b", "c"} {
		cache.SetIfCurrent(subject, &domain.Entitlement{SubjectID: subject}, cache.Generation())
		clock.Advance(time.Second)
	}

	_, found := cache.Get("a")
	assert.False(t, found, "oldest entry evicted")
	_, found = cache.Get("c")
	assert.True(t, found)
}

func TestEntitlementCacheDisabled(t *testing.T) {
	cache := NewEntitlementCache(0, 10)
	defer cache.Stop()

	assert.False(t, cache.SetIfCurrent("u1", &domain.Entitlement{SubjectID: "u1"}, cache.Generation()))
	_, found := cache.Get("u1")
	assert.False(t, found)
}
