// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/models"
)

// Manager combines the memory and remote tiers. Reads try memory
// first, then Redis; a remote hit repopulates memory with the
// remaining remote TTL. Writes go through to both tiers. Remote
// failures flip the manager into degraded memory-only mode; they are
// logged and counted but never surfaced to readers.
type Manager struct {
	memory     *Memory
	remote     *Redis
	defaultTTL time.Duration
	degraded   atomic.Bool
	lastErr    atomic.Value // string
}

// ManagerStats aggregates both tiers for the stats endpoint.
type ManagerStats struct {
	Degraded  bool        `json:"degraded"`
	LastError string      `json:"last_error,omitempty"`
	Memory    MemoryStats `json:"memory"`
	Remote    *RedisStats `json:"remote,omitempty"`
}

// NewManager builds a manager over the given tiers. remote may be nil,
// in which case the manager runs memory-only from the start.
func NewManager(memory *Memory, remote *Redis, defaultTTL time.Duration) *Manager {
	m := &Manager{
		memory:     memory,
		remote:     remote,
		defaultTTL: defaultTTL,
	}
	if remote == nil {
		m.degraded.Store(true)
	}
	return m
}

// SourceKey returns the cache key holding a source's fetched items.
func SourceKey(sourceID string) string {
	return "source:" + sourceID
}

// HTTPKey returns the cache key for a raw HTTP response.
func HTTPKey(method, url, params string) string {
	sum := sha1.Sum([]byte(method + " " + url + "?" + params))
	return "http:" + hex.EncodeToString(sum[:])
}

// Get unmarshals the cached payload for key into dest. The bool
// reports whether a usable entry was found in either tier.
func (m *Manager) Get(ctx context.Context, key string, dest any) bool {
	if data, ok := m.memory.Get(key); ok {
		if err := json.Unmarshal(data, dest); err == nil {
			return true
		}
		// Corrupt entry, drop it and fall through to remote.
		m.memory.Delete(key)
	}

	if m.remote == nil {
		return false
	}

	data, ok, err := m.remote.Get(ctx, key)
	if err != nil {
		m.noteRemoteError(err, "get", key)
		return false
	}
	m.noteRemoteOK()
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		logging.Warn().Str("key", key).Err(err).Msg("dropping undecodable remote cache entry")
		_ = m.remote.Delete(ctx, key)
		return false
	}

	// Repopulate memory with the remote entry's remaining lifetime so
	// both tiers expire together.
	ttl := m.defaultTTL
	if remaining, has, err := m.remote.TTL(ctx, key); err == nil && has {
		ttl = remaining
	}
	m.memory.Set(key, data, ttl)
	return true
}

// Exists reports whether key is present in either tier without
// decoding the payload.
func (m *Manager) Exists(ctx context.Context, key string) bool {
	if m.memory.Exists(key) {
		return true
	}
	if m.remote == nil {
		return false
	}
	ok, err := m.remote.Exists(ctx, key)
	if err != nil {
		m.noteRemoteError(err, "exists", key)
		return false
	}
	m.noteRemoteOK()
	return ok
}

// Set writes value to both tiers with the given TTL. A ttl of zero
// uses the manager default.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.memory.Set(key, data, ttl)

	if m.remote != nil {
		if err := m.remote.Set(ctx, key, data, ttl); err != nil {
			m.noteRemoteError(err, "set", key)
		} else {
			m.noteRemoteOK()
		}
	}
	return nil
}

// Delete removes key from both tiers.
func (m *Manager) Delete(ctx context.Context, key string) {
	m.memory.Delete(key)
	if m.remote != nil {
		if err := m.remote.Delete(ctx, key); err != nil {
			m.noteRemoteError(err, "del", key)
		}
	}
}

// remotePattern converts a plain prefix into the glob form Redis SCAN
// expects. Patterns already carrying glob metacharacters pass through.
func remotePattern(pattern string) string {
	if strings.ContainsAny(pattern, `*?[\`) {
		return pattern
	}
	return pattern + "*"
}

// Clear removes every key matching the glob pattern from both tiers
// and returns the larger of the two removal counts. A pattern without
// glob metacharacters is treated as a key prefix.
func (m *Manager) Clear(ctx context.Context, pattern string) int {
	removed := m.memory.DeletePattern(pattern)
	if m.remote != nil {
		n, err := m.remote.DeletePattern(ctx, remotePattern(pattern))
		if err != nil {
			m.noteRemoteError(err, "clear", pattern)
		} else if n > removed {
			removed = n
		}
	}
	return removed
}

// Keys returns the sorted union of both tiers' keys matching the glob
// pattern. Remote failures degrade to memory-only results.
func (m *Manager) Keys(ctx context.Context, pattern string) []string {
	seen := make(map[string]struct{})
	for _, k := range m.memory.Keys(pattern) {
		seen[k] = struct{}{}
	}
	if m.remote != nil {
		remote, err := m.remote.Keys(ctx, remotePattern(pattern))
		if err != nil {
			m.noteRemoteError(err, "keys", pattern)
		} else {
			m.noteRemoteOK()
			for _, k := range remote {
				seen[k] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TTL returns the remaining lifetime of key, preferring the memory tier.
func (m *Manager) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if d, ok := m.memory.TTL(key); ok {
		return d, true
	}
	if m.remote == nil {
		return 0, false
	}
	d, ok, err := m.remote.TTL(ctx, key)
	if err != nil {
		m.noteRemoteError(err, "ttl", key)
		return 0, false
	}
	return d, ok
}

// Degraded reports whether the remote tier is currently unusable.
func (m *Manager) Degraded() bool {
	return m.degraded.Load()
}

// Stats returns a combined snapshot of both tiers.
func (m *Manager) Stats(ctx context.Context) ManagerStats {
	out := ManagerStats{
		Degraded: m.Degraded(),
		Memory:   m.memory.Stats(),
	}
	if s, ok := m.lastErr.Load().(string); ok {
		out.LastError = s
	}
	if m.remote != nil {
		if rs, err := m.remote.Stats(ctx); err == nil {
			out.Remote = &rs
		} else {
			m.noteRemoteError(err, "stats", "")
		}
	}
	return out
}

// Close releases both tiers.
func (m *Manager) Close() error {
	m.memory.Close()
	if m.remote != nil {
		return m.remote.Close()
	}
	return nil
}

func (m *Manager) noteRemoteError(err error, op, key string) {
	m.lastErr.Store(models.ErrCacheUnavailable.Error() + ": " + err.Error())
	if m.degraded.CompareAndSwap(false, true) {
		logging.Warn().Err(err).Str("operation", op).Str("key", key).
			Msg("remote cache unavailable, degrading to memory-only")
	}
}

func (m *Manager) noteRemoteOK() {
	if m.degraded.CompareAndSwap(true, false) && m.remote != nil {
		logging.Info().Msg("remote cache recovered")
	}
}
