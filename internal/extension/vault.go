// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"context"

	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/internal/workspace"
)

// CodeShimUnavailable is returned by Vault when the compatibility shim is
// switched off.
const CodeShimUnavailable = "SHIM_UNAVAILABLE"

// Vault is the compatibility surface modeled on a note-taking
// application's vault object. It has no capability of its own: reads and
// subscriptions need file:read, mutations need file:write.
type Vault struct{ c *Context }

// HasVault reports whether the compatibility shim is available.
func (c *Context) HasVault() bool { return c.h.opts.CompatShim }

// Vault returns the shim, or an error when HasVault is false.
func (c *Context) Vault() (Vault, error) {
	if !c.HasVault() {
		return Vault{}, oops.In("extension").Code(CodeShimUnavailable).
			With("extension", c.id).
			Hint("set extensions.compat_shim: true").
			New("vault compatibility shim is disabled")
	}
	return Vault{c}, nil
}

func (v Vault) open(capability manifest.Capability, facility string) (*workspace.Vault, error) {
	return Workspace(v).vault(capability, facility)
}

// Files lists the vault's files.
func (v Vault) Files(ctx context.Context) ([]workspace.File, error) {
	wv, err := v.open(manifest.CapFileRead, "vault.getFiles")
	if err != nil {
		return nil, err
	}
	return wv.List(ctx)
}

// ActiveFile returns the active file path, or "".
func (v Vault) ActiveFile() (string, error) {
	wv, err := v.open(manifest.CapFileRead, "vault.getActiveFile")
	if err != nil {
		return "", err
	}
	return wv.ActiveFile(), nil
}

// Create writes a new file.
func (v Vault) Create(ctx context.Context, path string, data []byte) error {
	wv, err := v.open(manifest.CapFileWrite, "vault.create")
	if err != nil {
		return err
	}
	return wv.Create(ctx, path, data)
}

// Rename moves a file.
func (v Vault) Rename(ctx context.Context, oldPath, newPath string) error {
	wv, err := v.open(manifest.CapFileWrite, "vault.rename")
	if err != nil {
		return err
	}
	return wv.Rename(ctx, oldPath, newPath)
}

// Delete removes a file.
func (v Vault) Delete(ctx context.Context, path string) error {
	wv, err := v.open(manifest.CapFileWrite, "vault.delete")
	if err != nil {
		return err
	}
	return wv.Delete(ctx, path)
}

// OnActiveFileChange calls fn with the new active path.
func (v Vault) OnActiveFileChange(fn func(ctx context.Context, path string) error) (dispose.Func, error) {
	if err := v.c.require(manifest.CapFileRead, "vault.onActiveFileChange"); err != nil {
		return nil, err
	}
	return v.c.Events().OnActiveFileChange(func(ctx context.Context, e eventbus.Event) error {
		return fn(ctx, e.Path)
	})
}

// On calls fn for vault changes of one kind: create, modify, rename or
// delete. oldPath is set for renames.
func (v Vault) On(kind eventbus.ChangeKind, fn func(ctx context.Context, path, oldPath string) error) (dispose.Func, error) {
	if err := v.c.require(manifest.CapFileRead, "vault.on"); err != nil {
		return nil, err
	}
	switch kind {
	case eventbus.Create, eventbus.Modify, eventbus.Rename, eventbus.Delete:
	default:
		return nil, oops.In("extension").Code(eventbus.CodeUnknownTopic).
			With("extension", v.c.id).
			With("event", string(kind)).
			Errorf("unknown vault event %q", kind)
	}
	return v.c.Events().OnVaultChange(func(ctx context.Context, e eventbus.Event) error {
		if e.Kind != kind {
			return nil
		}
		return fn(ctx, e.Path, e.OldPath)
	})
}
