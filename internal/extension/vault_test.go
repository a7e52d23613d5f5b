// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/pkg/errutil"
)

func TestVaultShim_Disabled(t *testing.T) {
	f := newFixture(t, extension.Options{})
	var c *extension.Context
	f.install(t, "demo.shimless", []string{"file:read"}, extension.NativeFuncs{
		OnActivate: func(_ context.Context, ec *extension.Context) error {
			c = ec
			return nil
		},
	})
	assert.False(t, c.HasVault())
	_, err := c.Vault()
	errutil.AssertErrorCode(t, err, extension.CodeShimUnavailable)
}

func TestVaultShim_FileOperationsAndEvents(t *testing.T) {
	f := newFixture(t, extension.Options{CompatShim: true})
	ctx := context.Background()
	_, err := f.host.OpenVault(ctx, t.TempDir())
	require.NoError(t, err)

	var c *extension.Context
	f.install(t, "demo.shim", []string{"file:read", "file:write"}, extension.NativeFuncs{
		OnActivate: func(_ context.Context, ec *extension.Context) error {
			c = ec
			return nil
		},
	})
	v, err := c.Vault()
	require.NoError(t, err)

	var renames [][2]string
	_, err = v.On(eventbus.Rename, func(_ context.Context, path, oldPath string) error {
		renames = append(renames, [2]string{oldPath, path})
		return nil
	})
	require.NoError(t, err)

	var active []string
	_, err = v.OnActiveFileChange(func(_ context.Context, path string) error {
		active = append(active, path)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, v.Create(ctx, "draft.md", []byte("# draft")))
	require.NoError(t, f.host.Vault().SetActiveFile(ctx, "draft.md"))
	require.NoError(t, v.Rename(ctx, "draft.md", "final.md"))

	files, err := v.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "final.md", files[0].Path)

	got, err := v.ActiveFile()
	require.NoError(t, err)
	assert.Equal(t, "final.md", got)
	assert.Equal(t, [][2]string{{"draft.md", "final.md"}}, renames)
	assert.Equal(t, []string{"draft.md", "final.md"}, active)

	require.NoError(t, v.Delete(ctx, "final.md"))
	_, err = v.On(eventbus.ChangeKind("explode"), func(context.Context, string, string) error { return nil })
	errutil.AssertErrorCode(t, err, eventbus.CodeUnknownTopic)
}

func TestVaultShim_RequiresFileWrite(t *testing.T) {
	f := newFixture(t, extension.Options{CompatShim: true})
	ctx := context.Background()
	_, err := f.host.OpenVault(ctx, t.TempDir())
	require.NoError(t, err)

	var c *extension.Context
	f.install(t, "demo.readonly", []string{"file:read"}, extension.NativeFuncs{
		OnActivate: func(_ context.Context, ec *extension.Context) error {
			c = ec
			return nil
		},
	})
	v, err := c.Vault()
	require.NoError(t, err)
	err = v.Create(ctx, "x.md", nil)
	errutil.AssertErrorCode(t, err, extension.CodePermissionDenied)
}
