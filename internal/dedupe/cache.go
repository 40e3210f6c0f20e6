// ABOUTME: Thread-safe TTL cache of client message IDs already accepted per sender
// ABOUTME: Lets the router treat a retried send as a no-op instead of storing it twice

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key     string
	claimed time.Time
	elem    *list.Element
}

// Cache remembers (sender, client message ID) pairs for a bounded time and
// a bounded count. Oldest claims are evicted first when the cache is full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // oldest claim at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done   chan struct{}
	closed bool
}

// New creates a cache holding claims for ttl, at most maxSize at a time.
// A background goroutine sweeps expired claims every sweepEvery(ttl).
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepEvery(ttl))
	return c
}

func sweepEvery(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Key builds the cache key for one sender's client message ID.
func Key(senderID, clientMsgID string) string {
	return senderID + "\x00" + clientMsgID
}

// Claim records key and reports true when it was not already claimed within
// the TTL. A false result means the caller is looking at a retry.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[key]; ok {
		if now.Sub(e.claimed) < c.ttl {
			return false
		}
		c.removeLocked(e)
	}

	for len(c.entries) >= c.maxSize {
		c.removeLocked(c.order.Front().Value.(*entry))
	}

	e := &entry{key: key, claimed: now}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	return true
}

// Release forgets key so a later retry is accepted. Used when the claimed
// send failed before it was stored.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Len returns the number of live claims, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// sweep drops expired claims. Claims are appended in time order, so it
// stops at the first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		e := front.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}

func (c *Cache) sweepLoop(every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
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

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
