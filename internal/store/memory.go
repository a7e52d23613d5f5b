// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
)

// MemoryStore is an in-process Backend. It is used for tests and for
// store.driver=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	packages map[string]*Package
	kv       map[string]map[string][]byte
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages: make(map[string]*Package),
		kv:       make(map[string]map[string][]byte),
		now:      time.Now,
	}
}

// PutPackage implements PackageStore.
func (s *MemoryStore) PutPackage(_ context.Context, pkg *Package) error {
	if pkg == nil || pkg.ExtensionID == "" {
		return oops.In("store").With("operation", "put package").Errorf("package has no extension id")
	}
	c := pkg.Clone()
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[c.ExtensionID] = c
	return nil
}

// GetPackage implements PackageStore.
func (s *MemoryStore) GetPackage(_ context.Context, extensionID string) (*Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packages[extensionID]
	if !ok {
		return nil, notFound("get package", extensionID)
	}
	return p.Clone(), nil
}

// GetResource implements PackageStore.
func (s *MemoryStore) GetResource(_ context.Context, extensionID, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packages[extensionID]
	if !ok {
		return nil, notFound("get resource", extensionID, "path", path)
	}
	data, ok := p.Resources[path]
	if !ok {
		return nil, notFound("get resource", extensionID, "path", path)
	}
	return append([]byte(nil), data...), nil
}

// ListPackages implements PackageStore.
func (s *MemoryStore) ListPackages(_ context.Context) ([]PackageInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PackageInfo, 0, len(s.packages))
	for _, p := range s.packages {
		out = append(out, p.Info())
	}
	slices.SortFunc(out, func(a, b PackageInfo) int {
		return strings.Compare(a.ExtensionID, b.ExtensionID)
	})
	return out, nil
}

// SetEnabled implements PackageStore.
func (s *MemoryStore) SetEnabled(_ context.Context, extensionID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.packages[extensionID]
	if !ok {
		return notFound("set enabled", extensionID)
	}
	p.Enabled = enabled
	p.UpdatedAt = s.now()
	return nil
}

// DeletePackage implements PackageStore.
func (s *MemoryStore) DeletePackage(_ context.Context, extensionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.packages[extensionID]; !ok {
		return notFound("delete package", extensionID)
	}
	delete(s.packages, extensionID)
	return nil
}

// Get implements KVStore.
func (s *MemoryStore) Get(_ context.Context, namespace, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[namespace][key]
	if !ok {
		return nil, notFound("kv get", namespace, "key", key)
	}
	return append([]byte(nil), v...), nil
}

// Set implements KVStore.
func (s *MemoryStore) Set(_ context.Context, namespace, key string, value []byte) error {
	if err := validateKV(key, value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.kv[namespace]
	if !ok {
		ns = make(map[string][]byte)
		s.kv[namespace] = ns
	}
	ns[key] = append([]byte(nil), value...)
	return nil
}

// Delete implements KVStore. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv[namespace], key)
	return nil
}

// Keys implements KVStore.
func (s *MemoryStore) Keys(_ context.Context, namespace string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.kv[namespace]))
	for k := range s.kv[namespace] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

// DeleteNamespace implements KVStore.
func (s *MemoryStore) DeleteNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, namespace)
	return nil
}

// Close implements PackageStore.
func (s *MemoryStore) Close() error { return nil }
