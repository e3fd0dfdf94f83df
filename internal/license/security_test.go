package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRedeemLimiterAllow(t *testing.T) {
	limiter := NewRedeemLimiter(1, 3, 0)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("u1"), "attempt %d within burst", i+1)
	}
	assert.False(t, limiter.Allow("u1"))

	// Limits are per subject
	assert.True(t, limiter.Allow("u2"))
	assert.Equal(t, 2, limiter.Tracked())
}

func TestRedeemLimiterDisabled(t *testing.T) {
	limiter := NewRedeemLimiter(0, 5, time.Minute)
	assert.Nil(t, limiter)

	for i := 0; i < 100; i++ {
		assert.True(t, limiter.Allow("u1"))
	}
	assert.Zero(t, limiter.Tracked())
	limiter.Stop()
}

func TestRedeemLimiterPrune(t *testing.T) {
	limiter := NewRedeemLimiter(60, 1, time.Minute)
	defer limiter.Stop()

	limiter.Allow("idle")
	limiter.Allow("busy")

	limiter.mutex.Lock()
	limiter.limiters["idle"].lastSeen = time.Now().Add(-2 * time.Minute)
	limiter.mutex.Unlock()

	limiter.prune(time.Now())
	assert.Equal(t, 1, limiter.Tracked())

	limiter.Stop()
	limiter.Stop()
}
