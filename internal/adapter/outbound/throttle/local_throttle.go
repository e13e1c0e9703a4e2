package throttle

import (
	"context"
	"sync"
	"time"

	"docpipeline/internal/port/outbound"

	"golang.org/x/time/rate"
)

const (
	pruneThreshold = 1024
	idleTTL        = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	interval time.Duration
	lastSeen time.Time
}

// LocalThrottle keeps one token bucket per key in memory. It only limits
// writes made by this process.
type LocalThrottle struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	now      func() time.Time
}

var _ outbound.Throttle = (*LocalThrottle)(nil)

// NewLocalThrottle creates an empty in-process throttle.
func NewLocalThrottle() *LocalThrottle {
	return &LocalThrottle{
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Allow admits at most one event per key every interval.
func (t *LocalThrottle) Allow(_ context.Context, key string, interval time.Duration) (bool, error) {
	if interval <= 0 {
		return true, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.limiters[key]
	if !ok || entry.interval != interval {
		if len(t.limiters) >= pruneThreshold {
			t.pruneLocked(now)
		}
		entry = &limiterEntry{
			limiter:  rate.NewLimiter(rate.Every(interval), 1),
			interval: interval,
		}
		t.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

// Forget drops the limiter for key.
func (t *LocalThrottle) Forget(key string) {
	t.mu.Lock()
	delete(t.limiters, key)
	t.mu.Unlock()
}

func (t *LocalThrottle) pruneLocked(now time.Time) {
	for key, entry := range t.limiters {
		if now.Sub(entry.lastSeen) > idleTTL {
			delete(t.limiters, key)
		}
	}
}
