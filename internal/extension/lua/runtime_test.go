// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package lua_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/internal/extension"
	extlua "github.com/quire-editor/quire/internal/extension/lua"
	"github.com/quire-editor/quire/internal/resource"
	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/pkg/errutil"
)

type harness struct {
	host    *extension.Host
	backend *store.MemoryStore
}

func newHarness(t *testing.T, opts extension.Options) *harness {
	t.Helper()
	backend := store.NewMemoryStore()
	opts.Runtimes = []extension.Runtime{extlua.NewRuntime(nil)}
	opts.KV = backend
	h := extension.New(resource.NewRepository(backend), opts)
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	return &harness{host: h, backend: backend}
}

func (h *harness) install(t *testing.T, id string, perms []string, script string) extension.Status {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\nname: %s\nversion: 1.0.0\ntype: lua\n", id, id)
	if len(perms) > 0 {
		b.WriteString("permissions:\n")
		for _, p := range perms {
			fmt.Fprintf(&b, "  - %q\n", p)
		}
	}
	raw, err := json.Marshal(b.String())
	require.NoError(t, err)
	st, err := h.host.Install(context.Background(), &resource.PackageFile{Manifest: raw, CodeText: script})
	require.NoError(t, err)
	return st
}

func TestLua_CommandsAndStorage(t *testing.T) {
	h := newHarness(t, extension.Options{})
	ctx := context.Background()

	st := h.install(t, "demo.counter", []string{"ui:commands", "ui:statusbar", "storage"}, `
local count = 0
function activate(ctx)
  ctx.commands.register{
    id = "demo.counter.bump",
    title = "Bump",
    shortcut = "Ctrl+Alt+B",
    run = function()
      count = count + 1
      ctx.storage.set("count", tostring(count))
      ctx.status_bar.update("demo.counter.status", "count " .. count)
    end,
  }
  ctx.status_bar.register{ id = "demo.counter.status", title = "count 0" }
end
`)
	require.Equal(t, extension.StateActivated, st.State, st.Error)

	require.NoError(t, h.host.ExecuteCommand(ctx, "demo.counter.bump"))
	require.NoError(t, h.host.ExecuteCommand(ctx, "demo.counter.bump"))

	v, err := h.backend.Get(ctx, "demo.counter", "count")
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))

	item, ok := h.host.Registries().StatusBar.Get("demo.counter.status")
	require.True(t, ok)
	assert.Equal(t, "count 2", item.Title)

	cmd, ok := h.host.Registries().Commands.Get("demo.counter.bump")
	require.True(t, ok)
	assert.Equal(t, "Ctrl+Alt+B", cmd.Shortcut)

	require.NoError(t, h.host.Disable(ctx, "demo.counter"))
	assert.Equal(t, 0, h.host.Registries().Commands.Len())
	assert.Equal(t, 0, h.host.Registries().StatusBar.Len())
}

func TestLua_PermissionDeniedRaises(t *testing.T) {
	h := newHarness(t, extension.Options{})

	st := h.install(t, "demo.sneaky", []string{"ui:commands"}, `
function activate(ctx)
  ctx.storage.set("k", "v")
end
`)
	assert.Equal(t, extension.StateError, st.State)
	assert.Contains(t, st.Error, "requires storage")

	err := h.host.Retry(context.Background(), "demo.sneaky")
	errutil.AssertErrorCode(t, err, extension.CodeActivationFailed)
	errutil.AssertErrorContext(t, err, "cause_code", extension.CodePermissionDenied)
}

func TestLua_PermissionDeniedCatchableWithPcall(t *testing.T) {
	h := newHarness(t, extension.Options{})
	st := h.install(t, "demo.careful", nil, `
function activate(ctx)
  local ok, err = pcall(ctx.storage.get, "k")
  if ok or not string.find(err, "requires storage", 1, true) then
    error("expected a permission error, got " .. tostring(err))
  end
end
`)
	assert.Equal(t, extension.StateActivated, st.State, st.Error)
}

func TestLua_Sandbox(t *testing.T) {
	h := newHarness(t, extension.Options{})
	st := h.install(t, "demo.sandbox", nil, `
function activate(ctx)
  if os ~= nil or io ~= nil or load ~= nil or dofile ~= nil or require ~= nil then
    error("sandbox leak")
  end
end
`)
	assert.Equal(t, extension.StateActivated, st.State, st.Error)
}

func TestLua_SyntaxError(t *testing.T) {
	h := newHarness(t, extension.Options{})
	st := h.install(t, "demo.broken", nil, `function activate(ctx`)
	assert.Equal(t, extension.StateError, st.State)

	err := h.host.Retry(context.Background(), "demo.broken")
	errutil.AssertErrorContext(t, err, "cause_code", extlua.CodeLoadFailed)
}

func TestLua_MissingActivateIsAllowed(t *testing.T) {
	h := newHarness(t, extension.Options{})
	st := h.install(t, "demo.empty", nil, `local x = 1`)
	assert.Equal(t, extension.StateActivated, st.State, st.Error)

	st = h.install(t, "demo.wrongtype", nil, `activate = 5`)
	assert.Equal(t, extension.StateError, st.State)
}

func TestLua_HandlerTimeoutInterruptsLoop(t *testing.T) {
	h := newHarness(t, extension.Options{HandlerTimeout: 50 * time.Millisecond})
	ctx := context.Background()
	h.install(t, "demo.spin", []string{"ui:commands"}, `
function activate(ctx)
  ctx.commands.register{ id = "demo.spin.loop", title = "Loop", run = function() while true do end end }
  ctx.commands.register{ id = "demo.spin.ok", title = "Ok", run = function() end }
end
`)

	err := h.host.ExecuteCommand(ctx, "demo.spin.loop")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, h.host.ExecuteCommand(ctx, "demo.spin.ok"))
}

func TestLua_EventsSettingsAndPanels(t *testing.T) {
	h := newHarness(t, extension.Options{})
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("id: demo.watch\nname: watch\nversion: 1.0.0\ntype: lua\n")
	b.WriteString("permissions: [\"ui:panels\", \"storage\"]\n")
	b.WriteString("settings:\n  - key: prefix\n    type: string\n    default: saved\n")
	raw, err := json.Marshal(b.String())
	require.NoError(t, err)

	script := `
local saves = 0
function activate(ctx)
  ctx.events.on_file_save(function(path)
    saves = saves + 1
    ctx.storage.set("last", ctx.settings.get("prefix") .. ":" .. path)
  end)
  ctx.settings.on_change("prefix", function(value)
    ctx.storage.set("prefix", value)
  end)
  ctx.panels.register{
    id = "demo.watch.panel",
    title = "Saves",
    position = "right",
    render = function() return { saves = saves, items = { "a", "b" } } end,
  }
end
`
	st, err := h.host.Install(ctx, &resource.PackageFile{Manifest: raw, CodeText: script})
	require.NoError(t, err)
	require.Equal(t, extension.StateActivated, st.State, st.Error)

	h.host.Bus().EmitFileSaved(ctx, "notes/today.md")
	v, err := h.backend.Get(ctx, "demo.watch", "last")
	require.NoError(t, err)
	assert.Equal(t, "saved:notes/today.md", string(v))

	require.NoError(t, h.host.SetSetting(ctx, "demo.watch", "prefix", "stored"))
	v, err = h.backend.Get(ctx, "demo.watch", "prefix")
	require.NoError(t, err)
	assert.Equal(t, "stored", string(v))

	p, ok := h.host.Registries().Panels.Get("demo.watch.panel")
	require.True(t, ok)
	out, err := p.Render(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"saves": float64(1), "items": []any{"a", "b"}}, out)
}

func TestLua_VaultShim(t *testing.T) {
	h := newHarness(t, extension.Options{CompatShim: true})
	ctx := context.Background()
	_, err := h.host.OpenVault(ctx, t.TempDir())
	require.NoError(t, err)

	st := h.install(t, "demo.notes", []string{"file:read", "file:write", "storage"}, `
function activate(ctx)
  ctx.vault.on("create", function(path) ctx.storage.set("created", path) end)
  local err = ctx.vault.create("hello.md", "# hi")
  if err then error(err) end
  local files = ctx.vault.get_files()
  ctx.storage.set("count", tostring(#files))
  local text = ctx.workspace.read_file("hello.md")
  ctx.storage.set("text", text)
end
`)
	require.Equal(t, extension.StateActivated, st.State, st.Error)

	for key, want := range map[string]string{"created": "hello.md", "count": "1", "text": "# hi"} {
		v, err := h.backend.Get(ctx, "demo.notes", key)
		require.NoError(t, err, key)
		assert.Equal(t, want, string(v), key)
	}
}
