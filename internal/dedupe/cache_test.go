// ABOUTME: Tests for the idempotency key cache.
// ABOUTME: Covers expiry, release, eviction order, sweeping and concurrent claims.

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestCache(t *testing.T, ttl time.Duration, maxKeys int) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New(ttl, maxKeys)
	c.now = clock.Now
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache_ClaimOnce(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.True(t, c.Claim("k1"))
	assert.False(t, c.Claim("k1"))
	assert.True(t, c.Claim("k2"))
	assert.Equal(t, 2, c.Len())
}

func TestCache_ClaimAfterExpiry(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	assert.True(t, c.Claim("k"))
	clock.Advance(59 * time.Second)
	assert.False(t, c.Claim("k"))
	clock.Advance(2 * time.Second)
	assert.True(t, c.Claim("k"))
	assert.False(t, c.Claim("k"))
}

func TestCache_Release(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 10)

	assert.True(t, c.Claim("k"))
	c.Release("k")
	assert.Zero(t, c.Len())
	assert.True(t, c.Claim("k"))

	c.Release("never-claimed")
}

func TestCache_EvictsOldest(t *testing.T) {
	c, clock := newTestCache(t, time.Hour, 3)

	for i := range 3 {
		assert.True(t, c.Claim(fmt.Sprintf("k%d", i)))
		clock.Advance(time.Second)
	}
	assert.True(t, c.Claim("k3"))
	assert.Equal(t, 3, c.Len())

	// k0 fell out, so it can be claimed again; k1 was not touched.
	assert.True(t, c.Claim("k0"))
	assert.False(t, c.Claim("k2"))
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(t, time.Minute, 10)

	c.Claim("old1")
	c.Claim("old2")
	clock.Advance(30 * time.Second)
	c.Claim("fresh")
	clock.Advance(45 * time.Second)

	c.sweep()
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Claim("fresh"))
}

func TestCache_Defaults(t *testing.T) {
	c := New(0, 0)
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, DefaultMaxKeys, c.maxKeys)
}

func TestCache_CloseTwice(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	assert.NotPanics(t, c.Close)
}

func TestCache_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	c, _ := newTestCache(t, time.Minute, 100)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Claim("same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
