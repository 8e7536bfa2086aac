// Package cache provides the process-scoped TTL cache and the Redis
// layer used for credentials and dashboard responses. Both are bounded
// and read-through: a miss falls back to the relational store.
package cache

import (
	"sync"
	"time"

	"github.com/optiinfra/optiinfra/internal/telemetry"
)

type entry struct {
	value      interface{}
	expiresAt  time.Time
	accessedAt time.Time
}

// TTL is a thread-safe in-process cache with per-entry expiry and a
// bounded size; the oldest-accessed entry is evicted when full.
type TTL struct {
	name       string
	mu         sync.RWMutex
	items      map[string]*entry
	defaultTTL time.Duration
	maxSize    int
	stop       chan struct{}
}

// NewTTL builds a cache and starts its janitor goroutine.
func NewTTL(name string, defaultTTL time.Duration, maxSize int) *TTL {
	c := &TTL{
		name:       name,
		items:      make(map[string]*entry),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		stop:       make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Set stores value under key with the default TTL.
func (c *TTL) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value with an explicit TTL.
func (c *TTL) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) >= c.maxSize {
		c.evictOldestLocked()
	}
	now := time.Now()
	c.items[key] = &entry{value: value, expiresAt: now.Add(ttl), accessedAt: now}
}

// Get returns the live value for key, or false on miss or expiry.
func (c *TTL) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			delete(c.items, key)
		}
		telemetry.CacheMisses.WithLabelValues(c.name).Inc()
		return nil, false
	}
	e.accessedAt = time.Now()
	telemetry.CacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Delete removes key; used for invalidation on write.
func (c *TTL) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear drops every entry.
func (c *TTL) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry)
}

// Len returns the number of live entries.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the janitor.
func (c *TTL) Close() {
	close(c.stop)
}

func (c *TTL) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.items {
		if oldestKey == "" || e.accessedAt.Before(oldest) {
			oldestKey = k
			oldest = e.accessedAt
		}
	}
	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

func (c *TTL) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.items {
				if now.After(e.expiresAt) {
					delete(c.items, k)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}
