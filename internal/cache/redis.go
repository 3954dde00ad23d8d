// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package cache implements the fast session cache on Redis.
//
// The cache is advisory: it mirrors the session registry for low-latency
// validation and its loss never invalidates a live session. Every call is
// bounded by a per-operation timeout so a slow cache degrades to the
// durable path instead of stalling requests.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyloom/keyloom/internal/auth"
)

// DefaultTimeout bounds each cache round-trip.
const DefaultTimeout = 250 * time.Millisecond

const keyPrefix = "keyloom:session:"

// RedisSessionCache implements auth.SessionCache on a Redis client.
type RedisSessionCache struct {
	client  *redis.Client
	timeout time.Duration
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

// New creates a RedisSessionCache.
func New(opts Options) *RedisSessionCache {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &RedisSessionCache{client: client, timeout: timeout}
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(client *redis.Client, timeout time.Duration) *RedisSessionCache {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RedisSessionCache{client: client, timeout: timeout}
}

// Key returns the Redis key for a session handle.
func Key(handle string) string {
	return keyPrefix + handle
}

// Put mirrors a session entry under its handle with the given TTL.
func (c *RedisSessionCache) Put(ctx context.Context, handle string, entry auth.CacheEntry, ttl time.Duration) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return oops.Code("CACHE_MARSHAL_FAILED").Wrap(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, Key(handle), payload, ttl).Err(); err != nil {
		return oops.Code("CACHE_PUT_FAILED").
			With("session_handle", handle).
			Wrap(err)
	}
	return nil
}

// Get retrieves the entry for a handle. A missing key yields
// auth.ErrNotFound; any other failure (including timeout) surfaces as a
// distinct error the caller treats as "cache unavailable".
func (c *RedisSessionCache) Get(ctx context.Context, handle string) (*auth.CacheEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := c.client.Get(ctx, Key(handle)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, oops.Code("CACHE_MISS").
				With("session_handle", handle).
				Wrap(auth.ErrNotFound)
		}
		return nil, oops.Code("CACHE_GET_FAILED").
			With("session_handle", handle).
			Wrap(err)
	}

	var entry auth.CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		// A corrupt entry is as good as a miss; the durable path heals it.
		return nil, oops.Code("CACHE_CORRUPT").
			With("session_handle", handle).
			Wrap(auth.ErrNotFound)
	}
	return &entry, nil
}

// Delete removes the entry for a handle. Deleting a missing key succeeds.
func (c *RedisSessionCache) Delete(ctx context.Context, handle string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Del(ctx, Key(handle)).Err(); err != nil {
		return oops.Code("CACHE_DELETE_FAILED").
			With("session_handle", handle).
			Wrap(err)
	}
	return nil
}

// Ping checks connectivity. Used by the readiness probe.
func (c *RedisSessionCache) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Ping(ctx).Err(); err != nil {
		return oops.Code("CACHE_PING_FAILED").Wrap(err)
	}
	return nil
}

// Close releases the underlying client.
func (c *RedisSessionCache) Close() error {
	if err := c.client.Close(); err != nil {
		return oops.Code("CACHE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.SessionCache = (*RedisSessionCache)(nil)
