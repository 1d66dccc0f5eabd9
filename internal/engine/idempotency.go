package engine

import (
	"container/list"
	"sync"
	"time"
)

// idRetentionFactor scales the idempotency window into the age after which the
// periodic sweep forgets an explicit event ID.
const idRetentionFactor = 10

// IdempotencyCache detects duplicate publishes on two axes: reuse of an event
// ID, which is remembered until evicted, and reuse of the same tenant, type and
// payload within a rolling window.
//
// Event IDs are bounded by an LRU of maxEntries. Content hashes expire after
// the window and are also bounded by maxEntries.
type IdempotencyCache struct {
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu       sync.Mutex
	ids      map[string]*list.Element
	order    *list.List // of *idEntry, most recent first
	contents map[string]time.Time
}

type idEntry struct {
	id        string
	firstSeen time.Time
}

// NewIdempotencyCache creates a cache. maxEntries <= 0 leaves it unbounded.
func NewIdempotencyCache(window time.Duration, maxEntries int, now func() time.Time) *IdempotencyCache {
	if now == nil {
		now = time.Now
	}
	return &IdempotencyCache{
		window:     window,
		maxEntries: maxEntries,
		now:        now,
		ids:        make(map[string]*list.Element),
		order:      list.New(),
		contents:   make(map[string]time.Time),
	}
}

// IsDuplicate reports whether the publish was seen before and records it
// otherwise. The check and the insert happen under one lock.
func (c *IdempotencyCache) IsDuplicate(eventID, tenantID, eventType string, payload map[string]any) bool {
	ck := contentKey(tenantID, eventType, payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.ids[eventID]; ok {
		c.order.MoveToFront(el)
		return true
	}

	now := c.now()
	if seen, ok := c.contents[ck]; ok && now.Sub(seen) < c.window {
		return true
	}

	c.ids[eventID] = c.order.PushFront(&idEntry{id: eventID, firstSeen: now})
	c.contents[ck] = now
	c.evict(now)
	return false
}

// Forget removes what IsDuplicate recorded for a publish that did not complete.
func (c *IdempotencyCache) Forget(eventID, tenantID, eventType string, payload map[string]any) {
	ck := contentKey(tenantID, eventType, payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.ids[eventID]; ok {
		c.order.Remove(el)
		delete(c.ids, eventID)
	}
	delete(c.contents, ck)
}

// Sweep drops expired content hashes and event IDs older than the ID
// retention horizon. It returns the number of entries removed.
func (c *IdempotencyCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweep(c.now())
}

func (c *IdempotencyCache) sweep(now time.Time) int {
	removed := 0
	for ck, seen := range c.contents {
		if now.Sub(seen) >= c.window {
			delete(c.contents, ck)
			removed++
		}
	}

	horizon := c.window * idRetentionFactor
	if horizon <= 0 {
		return removed
	}
	for el := c.order.Back(); el != nil; {
		entry := el.Value.(*idEntry)
		if now.Sub(entry.firstSeen) < horizon {
			el = el.Prev()
			continue
		}
		prev := el.Prev()
		c.order.Remove(el)
		delete(c.ids, entry.id)
		removed++
		el = prev
	}
	return removed
}

// evict enforces maxEntries. Caller holds c.mu.
func (c *IdempotencyCache) evict(now time.Time) {
	if c.maxEntries <= 0 {
		return
	}
	for c.order.Len() > c.maxEntries {
		el := c.order.Back()
		c.order.Remove(el)
		delete(c.ids, el.Value.(*idEntry).id)
	}
	if len(c.contents) <= c.maxEntries {
		return
	}
	for ck, seen := range c.contents {
		if now.Sub(seen) >= c.window {
			delete(c.contents, ck)
		}
	}
	for len(c.contents) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for ck, seen := range c.contents {
			if oldestKey == "" || seen.Before(oldest) {
				oldestKey, oldest = ck, seen
			}
		}
		delete(c.contents, oldestKey)
	}
}

// Len returns the number of tracked event IDs plus content hashes.
func (c *IdempotencyCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids) + len(c.contents)
}
