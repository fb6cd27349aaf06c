// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package cache

import (
	"path"
	"strings"
	"sync"
	"time"

	"github.com/losesky/heatlink/internal/metrics"
)

// matchKey reports whether key matches the glob pattern. A pattern
// without glob metacharacters matches as a plain key prefix, so
// "source:" and "source:*" select the same keys.
func matchKey(pattern, key string) bool {
	if !strings.ContainsAny(pattern, `*?[\`) {
		return strings.HasPrefix(key, pattern)
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// memEntry is a node in the LRU list holding one cached payload.
type memEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
	prev      *memEntry
	next      *memEntry
}

// Memory is a thread-safe bounded LRU cache with per-entry TTL.
// A doubly-linked list keeps access order so capacity eviction is O(1);
// a background loop sweeps expired entries.
type Memory struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*memEntry

	// head.next is most recently used, tail.prev least recently used.
	head *memEntry
	tail *memEntry

	hits      int64
	misses    int64
	evictions int64

	stop chan struct{}
	once sync.Once
}

// MemoryStats is a point-in-time snapshot of memory tier counters.
type MemoryStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// NewMemory creates a bounded memory cache. A cleanupInterval of zero
// disables the background sweep (expired entries are still dropped
// lazily on access).
func NewMemory(capacity int, cleanupInterval time.Duration) *Memory {
	if capacity <= 0 {
		capacity = 10000
	}
	m := &Memory{
		capacity: capacity,
		items:    make(map[string]*memEntry, capacity),
		head:     &memEntry{},
		tail:     &memEntry{},
		stop:     make(chan struct{}),
	}
	m.head.next = m.tail
	m.tail.prev = m.head

	if cleanupInterval > 0 {
		go m.cleanupLoop(cleanupInterval)
	}
	return m
}

// Get returns the payload for key if present and unexpired.
// Found entries move to the front of the access order.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	if !ok {
		m.misses++
		metrics.RecordCacheMiss("memory")
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		m.removeEntry(entry)
		m.misses++
		m.evictions++
		metrics.RecordCacheMiss("memory")
		metrics.CacheEvictions.WithLabelValues("memory").Inc()
		return nil, false
	}

	m.moveToFront(entry)
	m.hits++
	metrics.RecordCacheHit("memory")
	return entry.value, true
}

// Exists reports whether key is present and unexpired. Unlike Get it
// does not touch the access order or the hit counters.
func (m *Memory) Exists(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	return ok && !time.Now().After(entry.expiresAt)
}

// TTL returns the remaining lifetime of key, or false if absent or expired.
func (m *Memory) TTL(key string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.items[key]
	if !ok {
		return 0, false
	}
	remaining := time.Until(entry.expiresAt)
	if remaining <= 0 {
		return 0, false
	}
	return remaining, true
}

// Set stores key with the given TTL, evicting the least recently used
// entry when at capacity.
func (m *Memory) Set(key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.items[key]; ok {
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		m.moveToFront(entry)
		return
	}

	if len(m.items) >= m.capacity {
		if lru := m.tail.prev; lru != m.head {
			m.removeEntry(lru)
			m.evictions++
			metrics.CacheEvictions.WithLabelValues("memory").Inc()
		}
	}

	entry := &memEntry{
		key:       key,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	m.items[key] = entry
	m.pushFront(entry)
	metrics.CacheEntries.WithLabelValues("memory").Set(float64(len(m.items)))
}

// Delete removes key if present.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.items[key]; ok {
		m.removeEntry(entry)
		m.evictions++
	}
}

// DeletePattern removes every key matching the glob pattern and
// returns the number removed.
func (m *Memory) DeletePattern(pattern string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, entry := range m.items {
		if matchKey(pattern, key) {
			m.removeEntry(entry)
			removed++
		}
	}
	m.evictions += int64(removed)
	metrics.CacheEntries.WithLabelValues("memory").Set(float64(len(m.items)))
	return removed
}

// Keys returns the unexpired keys matching the glob pattern. An empty
// pattern matches everything.
func (m *Memory) Keys(pattern string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	keys := make([]string, 0, len(m.items))
	for key, entry := range m.items {
		if now.After(entry.expiresAt) {
			continue
		}
		if matchKey(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Clear drops every entry.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evictions += int64(len(m.items))
	m.items = make(map[string]*memEntry, m.capacity)
	m.head.next = m.tail
	m.tail.prev = m.head
	metrics.CacheEntries.WithLabelValues("memory").Set(0)
}

// Stats returns a snapshot of the tier counters.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MemoryStats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   len(m.items),
	}
}

// Close stops the background sweep.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep removes all expired entries.
func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, entry := range m.items {
		if now.After(entry.expiresAt) {
			m.removeEntry(entry)
			m.evictions++
			metrics.CacheEvictions.WithLabelValues("memory").Inc()
		}
	}
	metrics.CacheEntries.WithLabelValues("memory").Set(float64(len(m.items)))
}

// list operations require the mutex held.

func (m *Memory) pushFront(entry *memEntry) {
	entry.prev = m.head
	entry.next = m.head.next
	m.head.next.prev = entry
	m.head.next = entry
}

func (m *Memory) removeEntry(entry *memEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(m.items, entry.key)
}

func (m *Memory) moveToFront(entry *memEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	m.pushFront(entry)
}
