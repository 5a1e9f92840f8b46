package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(start time.Time) (*Limiter, *time.Time) {
	l := New()
	now := start
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1000, 0))

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("b", 3, time.Minute), "request %d should be allowed", i)
	}
	assert.False(t, l.Allow("b", 3, time.Minute))
	// A denied call must not consume a slot or extend the window.
	assert.False(t, l.Allow("b", 3, time.Minute))
}

func TestWindowSlides(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1000, 0))

	assert.True(t, l.Allow("b", 2, time.Minute))
	*now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("b", 2, time.Minute))
	assert.False(t, l.Allow("b", 2, time.Minute))

	// First entry ages out; exactly one slot frees up.
	*now = now.Add(31 * time.Second)
	assert.True(t, l.Allow("b", 2, time.Minute))
	assert.False(t, l.Allow("b", 2, time.Minute))
}

func TestEntryAtCutoffIsDropped(t *testing.T) {
	l, now := newTestLimiter(time.Unix(1000, 0))

	assert.True(t, l.Allow("b", 1, time.Minute))
	// The window is half-open at the lower bound: an entry exactly one window
	// old no longer counts.
	*now = now.Add(time.Minute)
	assert.True(t, l.Allow("b", 1, time.Minute))
}

func TestBucketsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(time.Unix(1000, 0))

	assert.True(t, l.Allow("user:a", 1, time.Minute))
	assert.False(t, l.Allow("user:a", 1, time.Minute))
	assert.True(t, l.Allow("user:b", 1, time.Minute))
	assert.True(t, l.Allow("ip:1.2.3.4", 1, time.Minute))
}

func TestInvalidParameters(t *testing.T) {
	l := New()
	assert.False(t, l.Allow("b", 0, time.Minute))
	assert.False(t, l.Allow("b", 1, 0))
}

func TestConcurrentCallersNeverExceedLimit(t *testing.T) {
	l := New()
	const limit = 10

	var wg sync.WaitGroup
	allowed := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Allow("b", limit, time.Minute) {
				allowed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for range allowed {
		count++
	}
	assert.Equal(t, limit, count)
}
