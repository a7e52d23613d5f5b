// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"context"
	"errors"
	"net"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

// RedisKV is a KVStore on Redis. Each namespace is one hash at
// quire:kv:{namespace}.
type RedisKV struct {
	client redis.UniversalClient
}

// NewRedisKV wraps an existing client.
func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

// OpenRedisKV connects to the Redis server at addr.
func OpenRedisKV(ctx context.Context, addr string) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, classifyRedis("connect", err)
	}
	return &RedisKV{client: client}, nil
}

func namespaceKey(namespace string) string {
	return "quire:kv:" + namespace
}

// Get implements KVStore.
func (r *RedisKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	v, err := r.client.HGet(ctx, namespaceKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound("kv get", namespace, "key", key)
	}
	if err != nil {
		return nil, classifyRedis("kv get", err)
	}
	return v, nil
}

// Set implements KVStore.
func (r *RedisKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateKV(key, value); err != nil {
		return err
	}
	if err := r.client.HSet(ctx, namespaceKey(namespace), key, value).Err(); err != nil {
		return classifyRedis("kv set", err)
	}
	return nil
}

// Delete implements KVStore.
func (r *RedisKV) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.HDel(ctx, namespaceKey(namespace), key).Err(); err != nil {
		return classifyRedis("kv delete", err)
	}
	return nil
}

// Keys implements KVStore.
func (r *RedisKV) Keys(ctx context.Context, namespace string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, namespaceKey(namespace)).Result()
	if err != nil {
		return nil, classifyRedis("kv keys", err)
	}
	slices.Sort(keys)
	return keys, nil
}

// DeleteNamespace implements KVStore.
func (r *RedisKV) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := r.client.Del(ctx, namespaceKey(namespace)).Err(); err != nil {
		return classifyRedis("kv delete namespace", err)
	}
	return nil
}

// Close releases the client.
func (r *RedisKV) Close() error {
	return r.client.Close()
}

func classifyRedis(operation string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return unavailable(operation, err)
	}
	return oops.In("store").With("operation", operation).Wrap(err)
}
