// Package lrucache is a fixed size, goroutine safe least recently used cache.
package lrucache

import (
	"sync"
)

type entry[K comparable, V any] struct {
	key   K
	value V
	prev  *entry[K, V]
	next  *entry[K, V]
}

type Cache[K comparable, V any] struct {
	entries map[K]*entry[K, V]
	head    *entry[K, V]
	tail    *entry[K, V]
	maxSize int
	mu      sync.Mutex
}

// New returns a cache holding at most maxSize entries. A non-positive size
// is treated as one.
func New[K comparable, V any](maxSize int) *Cache[K, V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[K, V]{
		entries: make(map[K]*entry[K, V], maxSize),
		maxSize: maxSize,
	}
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)

	return e.value, true
}

// Peek returns the value for key without touching the recency order.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, evicting the least recently used entry when the
// cache is full. It reports whether an entry was evicted.
func (c *Cache[K, V]) Put(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return false
	}

	e := &entry[K, V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxSize {
		c.evictLRU()
		return true
	}
	return false
}

func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.unlink(e)
	delete(c.entries, key)
	return true
}

func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) moveToFront(e *entry[K, V]) {
	if e == c.head {
		return
	}
	c.unlink(e)
	c.addToFront(e)
}

func (c *Cache[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache[K, V]) addToFront(e *entry[K, V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache[K, V]) evictLRU() {
	if c.tail == nil {
		return
	}
	oldest := c.tail
	c.unlink(oldest)
	delete(c.entries, oldest.key)
}
