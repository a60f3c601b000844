// ABOUTME: TTL and size bounded set of idempotency keys for console command relays.
// ABOUTME: A repeated key inside the window is reported so the command is not sent twice.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults used by the controller console.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxKeys = 10_000
)

type entry struct {
	claimed time.Time
	elem    *list.Element
}

// Cache remembers claimed keys until they expire or are evicted oldest-first.
type Cache struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache and starts its sweeper. Non-positive arguments take
// the defaults.
func New(ttl time.Duration, maxKeys int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	c := &Cache{
		keys:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Claim records key and reports whether it was new. A false result means
// the key was claimed within the TTL and the caller should not repeat the work.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.keys[key]; ok {
		if now.Sub(e.claimed) < c.ttl {
			return false
		}
		e.claimed = now
		c.order.MoveToBack(e.elem)
		return true
	}

	if len(c.keys) >= c.maxKeys {
		c.evictOldestLocked()
	}
	c.keys[key] = &entry{claimed: now, elem: c.order.PushBack(key)}
	return true
}

// Release forgets key so a failed attempt can be retried with it.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.keys[key]; ok {
		c.order.Remove(e.elem)
		delete(c.keys, key)
	}
}

// Len returns the number of remembered keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys)
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.keys, key)
}

func (c *Cache) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. Insertion order matches claim order, so it
// stops at the first live key.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(c.keys[key].claimed) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.keys, key)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
