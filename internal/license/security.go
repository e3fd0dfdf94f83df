package license

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type subjectLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RedeemLimiter throttles redemption attempts per subject, slowing down code
// guessing. Idle limiters are dropped after ttl.
type RedeemLimiter struct {
	limiters map[string]*subjectLimiter
	mutex    sync.Mutex
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRedeemLimiter allows perMinute attempts per subject with the given
// burst. It returns nil when perMinute is zero; a nil limiter allows everything.
func NewRedeemLimiter(perMinute float64, burst int, ttl time.Duration) *RedeemLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	l := &RedeemLimiter{
		limiters: make(map[string]*subjectLimiter),
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}

	if ttl > 0 {
		go l.cleanup()
	}

	return l
}

// Allow reports whether subject may attempt a redemption now
func (l *RedeemLimiter) Allow(subjectID string) bool {
	if l == nil {
		return true
	}

	l.mutex.Lock()
	entry, exists := l.limiters[subjectID]
	if !exists {
		entry = &subjectLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[subjectID] = entry
	}
	entry.lastSeen = time.Now()
	l.mutex.Unlock()

	return entry.limiter.Allow()
}

// Tracked returns the number of subjects with a live limiter
func (l *RedeemLimiter) Tracked() int {
	if l == nil {
		return 0
	}
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.limiters)
}

// Stop stops the cleanup goroutine
func (l *RedeemLimiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *RedeemLimiter) cleanup() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune(time.Now())
		case <-l.stopChan:
			return
		}
	}
}

func (l *RedeemLimiter) prune(now time.Time) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for subject, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.ttl {
			delete(l.limiters, subject)
		}
	}
}
