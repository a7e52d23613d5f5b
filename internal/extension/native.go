// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/manifest"
)

// Native is an extension written in Go and compiled into the host.
type Native interface {
	Activate(ctx context.Context, c *Context) error
}

// NativeDeactivator is implemented by native extensions with a
// deactivation hook.
type NativeDeactivator interface {
	Deactivate(ctx context.Context) error
}

// NativeFuncs adapts plain functions to Native.
type NativeFuncs struct {
	OnActivate   func(ctx context.Context, c *Context) error
	OnDeactivate func(ctx context.Context) error
}

// Activate implements Native.
func (f NativeFuncs) Activate(ctx context.Context, c *Context) error {
	if f.OnActivate == nil {
		return nil
	}
	return f.OnActivate(ctx, c)
}

// Deactivate implements NativeDeactivator.
func (f NativeFuncs) Deactivate(ctx context.Context) error {
	if f.OnDeactivate == nil {
		return nil
	}
	return f.OnDeactivate(ctx)
}

// NativeRuntime serves manifests of type native from extensions
// registered by id. The package's code text is ignored.
type NativeRuntime struct {
	mu   sync.RWMutex
	exts map[string]Native
}

// NewNativeRuntime creates an empty native runtime.
func NewNativeRuntime() *NativeRuntime {
	return &NativeRuntime{exts: make(map[string]Native)}
}

// Register makes ext available under id, replacing any previous one.
func (r *NativeRuntime) Register(id string, ext Native) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exts[id] = ext
}

// Type implements Runtime.
func (r *NativeRuntime) Type() manifest.Type { return manifest.TypeNative }

// Load implements Runtime.
func (r *NativeRuntime) Load(_ context.Context, m *manifest.Manifest, _ string) (Instance, error) {
	r.mu.RLock()
	ext, ok := r.exts[m.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, oops.In("extension").Code(CodeRuntimeUnavailable).
			With("extension", m.ID).
			Errorf("no native extension is registered as %q", m.ID)
	}
	return &nativeInstance{ext: ext}, nil
}

type nativeInstance struct {
	ext Native
}

func (n *nativeInstance) Activate(ctx context.Context, c *Context) error {
	return n.ext.Activate(ctx, c)
}

func (n *nativeInstance) Deactivate(ctx context.Context) error {
	if d, ok := n.ext.(NativeDeactivator); ok {
		return d.Deactivate(ctx)
	}
	return nil
}

func (n *nativeInstance) Close() error { return nil }
