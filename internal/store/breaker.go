// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerKV guards a remote KVStore with a circuit breaker. After repeated
// unavailable errors, calls fail fast with ErrUnavailable until the
// breaker half-opens.
type BreakerKV struct {
	kv KVStore
	cb *gobreaker.CircuitBreaker[any]
}

// BreakerSettings tunes BreakerKV.
type BreakerSettings struct {
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// NewBreakerKV wraps kv.
func NewBreakerKV(name string, kv KVStore, s BreakerSettings, logger *slog.Logger) *BreakerKV {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerKV{
		kv: kv,
		cb: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:    name,
			Timeout: s.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= s.FailureThreshold
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !IsUnavailable(err)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("kv circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

func (b *BreakerKV) run(operation string, fn func() (any, error)) (any, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, unavailable(operation, err)
	}
	return v, err
}

// Get implements KVStore.
func (b *BreakerKV) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	v, err := b.run("kv get", func() (any, error) { return b.kv.Get(ctx, namespace, key) })
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

// Set implements KVStore.
func (b *BreakerKV) Set(ctx context.Context, namespace, key string, value []byte) error {
	_, err := b.run("kv set", func() (any, error) { return nil, b.kv.Set(ctx, namespace, key, value) })
	return err
}

// Delete implements KVStore.
func (b *BreakerKV) Delete(ctx context.Context, namespace, key string) error {
	_, err := b.run("kv delete", func() (any, error) { return nil, b.kv.Delete(ctx, namespace, key) })
	return err
}

// Keys implements KVStore.
func (b *BreakerKV) Keys(ctx context.Context, namespace string) ([]string, error) {
	v, err := b.run("kv keys", func() (any, error) { return b.kv.Keys(ctx, namespace) })
	if err != nil {
		return nil, err
	}
	keys, _ := v.([]string)
	return keys, nil
}

// DeleteNamespace implements KVStore.
func (b *BreakerKV) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := b.run("kv delete namespace", func() (any, error) { return nil, b.kv.DeleteNamespace(ctx, namespace) })
	return err
}

// State returns the breaker state name.
func (b *BreakerKV) State() string {
	return b.cb.State().String()
}
