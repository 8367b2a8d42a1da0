// Package cache keeps values by key until they go unused for a while
// (five minutes by default).
package cache

import (
	"sync"
	"time"
)

// Reasons given to the finalizer
const (
	ReasonExpired = "expired"
	ReasonDeleted = "deleted"
	ReasonCleared = "cleared"
)

// CreateFunc makes the value for key. Errors are never cached.
type CreateFunc[V any] func(key string) (V, error)

// Cache holds values of type V by key
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[V]
	ttl      time.Duration // unused entries older than this are dropped
	interval time.Duration // how often to look for them
	sweep    *time.Timer   // nil when nothing is scheduled
	finalize func(key string, value V, reason string)
}

type entry[V any] struct {
	value    V
	lastUsed time.Time
	pins     int // pinned entries never expire
}

// New makes an empty cache with the default timings
func New[V any]() *Cache[V] {
	return &Cache[V]{
		entries:  make(map[string]*entry[V]),
		ttl:      5 * time.Minute,
		interval: time.Minute,
	}
}

// SetExpireDuration sets how long an entry may go unused. Zero or
// less disables caching.
func (c *Cache[V]) SetExpireDuration(d time.Duration) *Cache[V] {
	c.mu.Lock()
	c.ttl = d
	c.mu.Unlock()
	return c
}

// SetExpireInterval sets how often expired entries are looked for.
// Zero or less means effectively never.
func (c *Cache[V]) SetExpireInterval(d time.Duration) *Cache[V] {
	if d <= 0 {
		d = 100 * 365 * 24 * time.Hour
	}
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
	return c
}

// SetFinalizer sets a function called, without the lock held, for
// every value leaving the cache
func (c *Cache[V]) SetFinalizer(finalize func(key string, value V, reason string)) *Cache[V] {
	c.mu.Lock()
	c.finalize = finalize
	c.mu.Unlock()
	return c
}

// touch marks e used and makes sure a sweep is scheduled
//
// call with mu held
func (c *Cache[V]) touch(e *entry[V]) {
	e.lastUsed = time.Now()
	if c.sweep == nil {
		c.sweep = time.AfterFunc(c.interval, c.expire)
	}
}

// Get returns the value for key, calling create to make it if it
// isn't cached. create runs without the lock held. If two callers
// race to create a key the first stored value is returned to both.
func (c *Cache[V]) Get(key string, create CreateFunc[V]) (V, error) {
	c.mu.Lock()
	e, found := c.entries[key]
	if found {
		c.touch(e)
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	value, err := create(key)
	if err != nil {
		return value, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, found = c.entries[key]; !found {
		e = &entry[V]{value: value}
		if c.ttl > 0 {
			c.entries[key] = e
		}
	}
	c.touch(e)
	return e.value, nil
}

// GetMaybe returns the value for key if it is cached
func (c *Cache[V]) GetMaybe(key string) (value V, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found {
		return value, false
	}
	c.touch(e)
	return e.value, true
}

// Put stores value under key
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl <= 0 {
		return
	}
	e := &entry[V]{value: value}
	c.touch(e)
	c.entries[key] = e
}

// PinMaybe returns the value for key, if it is cached, pinned so it
// can't expire until unpin is called. unpin only ever releases the pin
// it took, even if key has been replaced since.
func (c *Cache[V]) PinMaybe(key string) (value V, unpin func(), found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found {
		return value, func() {}, false
	}
	e.pins++
	c.touch(e)
	var once sync.Once
	unpin = func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			e.pins--
			if c.entries[key] == e {
				c.touch(e)
			}
		})
	}
	return e.value, unpin, true
}

// removeLocked takes out the entries for which drop is true and
// returns them
//
// call with mu held
func (c *Cache[V]) removeLocked(drop func(key string, e *entry[V]) bool) map[string]V {
	gone := make(map[string]V)
	for key, e := range c.entries {
		if drop(key, e) {
			delete(c.entries, key)
			gone[key] = e.value
		}
	}
	return gone
}

// finalizeAll calls the finalizer on gone
func (c *Cache[V]) finalizeAll(gone map[string]V, reason string) {
	c.mu.Lock()
	finalize := c.finalize
	c.mu.Unlock()
	if finalize == nil {
		return
	}
	for key, value := range gone {
		finalize(key, value, reason)
	}
}

// Delete removes key, reporting whether it was there
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	gone := c.removeLocked(func(k string, _ *entry[V]) bool { return k == key })
	c.mu.Unlock()
	c.finalizeAll(gone, ReasonDeleted)
	return len(gone) > 0
}

// DeleteFunc removes every entry match returns true for and returns
// their keys
func (c *Cache[V]) DeleteFunc(match func(key string, value V) bool) []string {
	c.mu.Lock()
	gone := c.removeLocked(func(k string, e *entry[V]) bool { return match(k, e.value) })
	c.mu.Unlock()
	c.finalizeAll(gone, ReasonDeleted)
	keys := make([]string, 0, len(gone))
	for key := range gone {
		keys = append(keys, key)
	}
	return keys
}

// Clear removes everything
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	gone := c.removeLocked(func(string, *entry[V]) bool { return true })
	c.mu.Unlock()
	c.finalizeAll(gone, ReasonCleared)
}

// expire drops the unpinned entries unused for longer than ttl and
// reschedules itself while anything is left
func (c *Cache[V]) expire() {
	c.mu.Lock()
	now := time.Now()
	gone := c.removeLocked(func(_ string, e *entry[V]) bool {
		return e.pins <= 0 && now.Sub(e.lastUsed) > c.ttl
	})
	if len(c.entries) > 0 {
		c.sweep = time.AfterFunc(c.interval, c.expire)
	} else {
		c.sweep = nil
	}
	c.mu.Unlock()
	c.finalizeAll(gone, ReasonExpired)
}

// Entries returns how many values are cached
func (c *Cache[V]) Entries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
