// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"context"
	"path/filepath"

	"github.com/samber/oops"
)

// Package store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// KV drivers.
const (
	KVDriverStore = "store"
	KVDriverRedis = "redis"
)

// Options selects and configures the backends.
type Options struct {
	Driver    string
	DSN       string
	DataDir   string
	KVDriver  string
	RedisAddr string
}

// Stores is an opened pair of package and KV backends.
type Stores struct {
	Packages PackageStore
	KV       KVStore

	closers []func() error
}

// Close closes every backend opened by Open.
func (s *Stores) Close() error {
	var first error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Open opens the backends named by opts.
func Open(ctx context.Context, opts Options) (*Stores, error) {
	var backend Backend
	switch opts.Driver {
	case DriverSQLite, "":
		path := opts.DSN
		if path == "" {
			path = filepath.Join(opts.DataDir, "quire.db")
		}
		s, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		backend = s
	case DriverPostgres:
		s, err := OpenPostgres(ctx, opts.DSN)
		if err != nil {
			return nil, err
		}
		backend = s
	case DriverMemory:
		backend = NewMemoryStore()
	default:
		return nil, oops.In("store").With("driver", opts.Driver).Errorf("unknown store driver %q", opts.Driver)
	}

	out := &Stores{Packages: backend, KV: backend, closers: []func() error{backend.Close}}

	switch opts.KVDriver {
	case KVDriverStore, "":
	case KVDriverRedis:
		kv, err := OpenRedisKV(ctx, opts.RedisAddr)
		if err != nil {
			_ = out.Close()
			return nil, err
		}
		out.KV = NewBreakerKV("redis-kv", kv, BreakerSettings{}, nil)
		out.closers = append(out.closers, kv.Close)
	default:
		_ = out.Close()
		return nil, oops.In("store").With("driver", opts.KVDriver).Errorf("unknown kv driver %q", opts.KVDriver)
	}
	return out, nil
}
