// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"context"

	"github.com/quire-editor/quire/internal/manifest"
)

// Runtime turns extension code of one manifest type into an Instance.
type Runtime interface {
	// Type is the manifest type this runtime serves.
	Type() manifest.Type

	// Load compiles code. It must not run the activation entry point.
	Load(ctx context.Context, m *manifest.Manifest, code string) (Instance, error)
}

// Instance is loaded extension code. The host serializes calls into one
// instance, so implementations need no locking of their own.
type Instance interface {
	// Activate runs the activation entry point with the extension's
	// context.
	Activate(ctx context.Context, c *Context) error

	// Deactivate runs the optional deactivation hook.
	Deactivate(ctx context.Context) error

	// Close releases the instance. It is called once, after Deactivate or
	// after a failed Activate.
	Close() error
}
