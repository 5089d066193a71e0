// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/jeranaias/sessiongate/internal/logging"
)

// DefaultRedisPrefix namespaces the token key in a shared Redis.
const DefaultRedisPrefix = "sessiongate:"

// RedisStore keeps the token in Redis, for hosts that share one login across
// machines (jump boxes, CI runners).
type RedisStore struct {
	client *redis.Client
	key    string
	log    *slog.Logger
}

// NewRedisStore connects to the Redis at url (redis://host:port/db).
func NewRedisStore(ctx context.Context, url, prefix string, log *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStoreWithClient(client, prefix, log), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, log *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, key: prefix + Key, log: logging.OrDiscard(log)}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context) (string, bool) {
	token, err := r.client.Get(ctx, r.key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("credential redis unreadable, treating as signed out", "error", err)
		}
		return "", false
	}
	return token, token != ""
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, token string) error {
	if err := r.client.Set(ctx, r.key, token, 0).Err(); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Clear implements Store.
func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
