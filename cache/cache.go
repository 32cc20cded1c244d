//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of ServiceDW.
//
// ServiceDW is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// ServiceDW is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with ServiceDW. If not, see https://www.gnu.org/licenses/.

// cache.go - In-memory TTL caches for KPI results
package cache

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry is a cached value with its expiration time.
type Entry struct {
	Value      interface{}
	Expiration time.Time
}

// IsExpired reports whether the entry is past its expiration at now.
func (e Entry) IsExpired(now time.Time) bool {
	return now.After(e.Expiration)
}

// Cache abstracts the KPI result cache.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{}, ttl time.Duration)
	Delete(key string)
	Clear()
	Has(key string) bool
	Close()
}

// InMemoryCache is a TTL cache with periodic cleanup of expired entries.
type InMemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures an InMemoryCache.
type Option func(*InMemoryCache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *InMemoryCache) { c.now = now }
}

// NewInMemoryCache creates a cache whose expired entries are swept every
// cleanupInterval. A non-positive interval disables the sweeper.
func NewInMemoryCache(cleanupInterval time.Duration, opts ...Option) *InMemoryCache {
	c := &InMemoryCache{
		entries: make(map[string]Entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cleanupInterval > 0 {
		go c.cleanupExpired(cleanupInterval)
	}
	return c
}

// Get returns a live value.
func (c *InMemoryCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || entry.IsExpired(c.now()) {
		return nil, false
	}
	return entry.Value, true
}

// Set stores value for ttl.
func (c *InMemoryCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = Entry{Value: value, Expiration: c.now().Add(ttl)}
}

// Delete removes key.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear removes every entry.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]Entry)
}

// Has reports whether key holds a live value.
func (c *InMemoryCache) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine. Safe to call more than once.
func (c *InMemoryCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Sweep drops expired entries and returns how many were removed.
func (c *InMemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if entry.IsExpired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *InMemoryCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}

// ShardedCache spreads keys over power-of-two shards to reduce lock contention.
type ShardedCache struct {
	shards    []*InMemoryCache
	shardMask uint32
}

// NewShardedCache creates shardCount shards. shardCount must be a power of 2.
func NewShardedCache(shardCount int, cleanupInterval time.Duration, opts ...Option) *ShardedCache {
	if shardCount <= 0 || (shardCount&(shardCount-1)) != 0 {
		panic("shardCount must be a power of 2")
	}
	shards := make([]*InMemoryCache, shardCount)
	for i := range shards {
		shards[i] = NewInMemoryCache(cleanupInterval, opts...)
	}
	return &ShardedCache{shards: shards, shardMask: uint32(shardCount - 1)}
}

func (sc *ShardedCache) shard(key string) *InMemoryCache {
	return sc.shards[fnv32(key)&sc.shardMask]
}

func (sc *ShardedCache) Get(key string) (interface{}, bool) { return sc.shard(key).Get(key) }

func (sc *ShardedCache) Set(key string, value interface{}, ttl time.Duration) {
	sc.shard(key).Set(key, value, ttl)
}

func (sc *ShardedCache) Delete(key string) { sc.shard(key).Delete(key) }

func (sc *ShardedCache) Has(key string) bool { return sc.shard(key).Has(key) }

func (sc *ShardedCache) Clear() {
	for _, s := range sc.shards {
		s.Clear()
	}
}

func (sc *ShardedCache) Close() {
	for _, s := range sc.shards {
		s.Close()
	}
}

// fnv32 is the 32-bit FNV-1a hash.
func fnv32(key string) uint32 {
	hash := uint32(2166136261)
	const prime32 = uint32(16777619)
	for i := 0; i < len(key); i++ {
		hash ^= uint32(key[i])
		hash *= prime32
	}
	return hash
}

// KeyBuilder joins key parts with ':'.
type KeyBuilder struct {
	parts []string
}

// NewKeyBuilder starts a key.
func NewKeyBuilder(prefix string) *KeyBuilder {
	return &KeyBuilder{parts: []string{prefix}}
}

// Add appends a part. Empty parts are kept so positions stay stable.
func (b *KeyBuilder) Add(part string) *KeyBuilder {
	b.parts = append(b.parts, strings.ReplaceAll(part, ":", `\:`))
	return b
}

// AddInt appends an integer part.
func (b *KeyBuilder) AddInt(v int) *KeyBuilder {
	b.parts = append(b.parts, strconv.Itoa(v))
	return b
}

// Build returns the key.
func (b *KeyBuilder) Build() string {
	return strings.Join(b.parts, ":")
}
