package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a per-process sliding-window counter keyed by opaque bucket
// names. A horizontally scaled deployment multiplies the effective limit by
// the instance count, which is acceptable for contact-spam suppression.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

func New() *Limiter {
	return &Limiter{
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records an event in the bucket and reports whether it fits inside the
// window. Entries at or before now-window are pruned on access; a denied call
// does not consume a slot.
func (l *Limiter) Allow(bucketKey string, maxRequests int, window time.Duration) bool {
	if maxRequests < 1 || window <= 0 {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	entries := l.buckets[bucketKey]
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= maxRequests {
		l.buckets[bucketKey] = kept
		return false
	}
	l.buckets[bucketKey] = append(kept, now)
	return true
}
