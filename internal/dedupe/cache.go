// ABOUTME: Thread-safe TTL cache of webhook delivery ids
// ABOUTME: Claim before processing, Complete after success, Release on failure so redelivery works

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type state int

const (
	inFlight state = iota
	done
)

// cacheEntry stores the state, timestamp and list element for a cached key.
type cacheEntry struct {
	state     state
	timestamp time.Time
	element   *list.Element
}

// Cache tracks delivery ids. A key moves from claimed (being processed) to
// completed; only completed keys count as duplicates once processing is over,
// and a claimed key blocks concurrent redeliveries of the same id.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache with the given TTL and maximum size.
// A background goroutine periodically cleans up expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.cleanup()
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

func (c *Cache) liveLocked(key string) (*cacheEntry, bool) {
	entry, ok := c.seen[key]
	if !ok || c.now().Sub(entry.timestamp) >= c.ttl {
		return nil, false
	}
	return entry, true
}

// Seen reports whether key completed processing within the TTL.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.liveLocked(key)
	return ok && entry.state == done
}

// Claim reserves key for processing. It returns false when the key already
// completed or is being processed by someone else; the caller must then skip
// the delivery. A true result must be followed by Complete or Release.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.liveLocked(key); ok {
		return false
	}
	c.putLocked(key, inFlight)
	return true
}

// Complete records that key was processed successfully.
func (c *Cache) Complete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, done)
}

// Release drops a claim without completing it, so a retried delivery is
// processed again.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.seen[key]
	if !ok || entry.state != inFlight {
		return
	}
	c.order.Remove(entry.element)
	delete(c.seen, key)
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// putLocked must be called with mu held.
func (c *Cache) putLocked(key string, s state) {
	now := c.now()

	if entry, exists := c.seen[key]; exists {
		entry.state = s
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{state: s, timestamp: now, element: elem}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
