// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package store persists extension packages and per-extension key/value data.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/samber/oops"
)

// Sentinel errors. Backends wrap these so callers can test with errors.Is.
var (
	// ErrNotFound means the requested package, resource or key does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the backend could not be reached. The operation may
	// succeed if retried.
	ErrUnavailable = errors.New("storage unavailable")
)

// KV limits applied by every backend.
const (
	KVKeyMaxLength    = 256
	KVValueMaxSize    = 1024 * 1024
	CodeKVKeyInvalid  = "KV_KEY_INVALID"
	CodeKVValueTooBig = "KV_VALUE_TOO_BIG"
)

// Package is a stored extension package: manifest, code text and resource
// files keyed by normalized relative path.
type Package struct {
	ExtensionID string
	Manifest    []byte
	Code        string
	Resources   map[string][]byte
	Digest      string
	Enabled     bool
	UpdatedAt   time.Time
}

// Clone returns a deep copy of p.
func (p *Package) Clone() *Package {
	if p == nil {
		return nil
	}
	c := *p
	c.Manifest = append([]byte(nil), p.Manifest...)
	c.Resources = cloneResources(p.Resources)
	return &c
}

// Info returns the package summary.
func (p *Package) Info() PackageInfo {
	return PackageInfo{
		ExtensionID: p.ExtensionID,
		Manifest:    append([]byte(nil), p.Manifest...),
		Digest:      p.Digest,
		Enabled:     p.Enabled,
		UpdatedAt:   p.UpdatedAt,
	}
}

// PackageInfo summarizes a stored package without its code or resources.
type PackageInfo struct {
	ExtensionID string
	Manifest    []byte
	Digest      string
	Enabled     bool
	UpdatedAt   time.Time
}

// PackageStore persists extension packages.
type PackageStore interface {
	// PutPackage stores pkg, replacing any previous package with the same
	// extension id. Resources of the previous package are removed. The write
	// is atomic: readers see either the old or the new package.
	PutPackage(ctx context.Context, pkg *Package) error
	GetPackage(ctx context.Context, extensionID string) (*Package, error)
	GetResource(ctx context.Context, extensionID, path string) ([]byte, error)
	// ListPackages returns all packages ordered by extension id.
	ListPackages(ctx context.Context) ([]PackageInfo, error)
	SetEnabled(ctx context.Context, extensionID string, enabled bool) error
	// DeletePackage removes the package and its resources.
	DeletePackage(ctx context.Context, extensionID string) error
	Close() error
}

// KVStore persists small values in per-extension namespaces.
type KVStore interface {
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Set(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	// Keys returns the keys of a namespace in ascending order.
	Keys(ctx context.Context, namespace string) ([]string, error)
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Backend is a store that serves both packages and key/value data.
type Backend interface {
	PackageStore
	KVStore
}

// IsUnavailable reports whether err is a transient backend failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsNotFound reports whether err means a missing package, resource or key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(operation, extensionID string, attrs ...any) error {
	return oops.In("store").
		With("operation", operation).
		With("extension", extensionID).
		With(attrs...).
		Wrap(ErrNotFound)
}

func unavailable(operation string, cause error) error {
	return oops.In("store").
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrUnavailable, cause))
}

func validateKV(key string, value []byte) error {
	if key == "" || len(key) > KVKeyMaxLength {
		return oops.In("store").Code(CodeKVKeyInvalid).
			With("length", len(key)).
			Errorf("key must be 1-%d bytes", KVKeyMaxLength)
	}
	if len(value) > KVValueMaxSize {
		return oops.In("store").Code(CodeKVValueTooBig).
			With("key", key).
			With("size", len(value)).
			Errorf("value exceeds %d bytes", KVValueMaxSize)
	}
	return nil
}

func cloneResources(in map[string][]byte) map[string][]byte {
	out := maps.Clone(in)
	for k, v := range out {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
