// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/losesky/heatlink/internal/metrics"
)

// Redis is the remote cache tier backed by a Redis server.
type Redis struct {
	client *redis.Client
}

// RedisStats is a snapshot of remote tier state.
type RedisStats struct {
	Keys       int64
	Hits       int64
	Misses     int64
	TotalConns uint32
	IdleConns  uint32
}

// NewRedis connects to the Redis server at the given URL
// (redis://[user:pass@]host:port/db).
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{client: client}, nil
}

// Get returns the payload for key. The second return reports presence;
// an error means the backend failed, not that the key was absent.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheMiss("remote")
		return nil, false, nil
	}
	if err != nil {
		metrics.RecordCacheError("remote", "get")
		return nil, false, err
	}
	metrics.RecordCacheHit("remote")
	return val, true, nil
}

// Set stores key with the given TTL.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		metrics.RecordCacheError("remote", "set")
		return err
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		metrics.RecordCacheError("remote", "del")
		return err
	}
	return nil
}

// Exists reports whether key is present.
func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		metrics.RecordCacheError("remote", "exists")
		return false, err
	}
	return n > 0, nil
}

// TTL returns the remaining lifetime of key, or false if absent or
// without expiry.
func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		metrics.RecordCacheError("remote", "ttl")
		return 0, false, err
	}
	// -2 absent, -1 no expiry
	if d < 0 {
		return 0, false, nil
	}
	return d, true, nil
}

// DeletePattern removes every key matching the glob pattern using SCAN
// and returns the number removed. KEYS is avoided so large databases
// are not blocked.
func (r *Redis) DeletePattern(ctx context.Context, pattern string) (int, error) {
	iter := r.client.Scan(ctx, 0, pattern, 200).Iterator()
	removed := 0
	batch := make([]string, 0, 200)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			n, err := r.client.Del(ctx, batch...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		metrics.RecordCacheError("remote", "scan")
		return removed, err
	}
	if len(batch) > 0 {
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

// Keys returns the keys matching the glob pattern using SCAN.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	iter := r.client.Scan(ctx, 0, pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		metrics.RecordCacheError("remote", "scan")
		return keys, err
	}
	return keys, nil
}

// Ping reports backend reachability.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Stats returns a snapshot of remote tier state.
func (r *Redis) Stats(ctx context.Context) (RedisStats, error) {
	keys, err := r.client.DBSize(ctx).Result()
	if err != nil {
		return RedisStats{}, err
	}
	pool := r.client.PoolStats()
	return RedisStats{
		Keys:       keys,
		Hits:       int64(pool.Hits),
		Misses:     int64(pool.Misses),
		TotalConns: pool.TotalConns,
		IdleConns:  pool.IdleConns,
	}, nil
}

// Close releases the client connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
