// Viewmark - Client-Side Engagement Event Tracking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/viewmark

// Package cache provides a small thread-safe TTL cache used by the ledger
// to avoid re-reading and re-parsing durable storage on every call.
//
// Entries are evicted lazily on Get; the tracker caches a handful of keys,
// so no background sweeper is needed. The cache is never the source of
// truth — everything in it is rebuildable from the durable store.
package cache

import (
	"sync"
	"time"

	"github.com/tomtom215/viewmark/internal/clock"
)

// Entry is a cached value with its expiration instant.
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Cache is a thread-safe in-memory cache with per-entry TTL.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	ttl     time.Duration
	clk     clock.Clock
	stats   Stats
}

// New creates a cache whose entries expire after ttl.
// The clock is injected so tests can expire entries without sleeping.
func New(ttl time.Duration, clk clock.Clock) *Cache {
	return &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		clk:     clk,
	}
}

// Get retrieves a value by key. Expired entries are removed and counted
// as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.recordMiss()
		return nil, false
	}

	if c.clk.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.stats.Evictions++
		c.mu.Unlock()
		c.recordMiss()
		return nil, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return entry.Data, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value with a custom TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: c.clk.Now().Add(ttl),
	}
}

// Delete removes a specific entry. No-op for missing keys.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Evictions++
	}
}

// Clear removes all entries. Called by the lifecycle hooks so a revived
// context rebuilds from durable storage instead of stale memory.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += int64(len(c.entries))
	c.entries = make(map[string]Entry)
}

// GetStats returns a snapshot of the cache counters.
func (c *Cache) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}
