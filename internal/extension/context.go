// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/internal/workspace"
	"github.com/quire-editor/quire/pkg/errutil"
)

// Context is the capability-scoped host interface handed to an
// extension's activation entry point.
//
// Every facility is always reachable, but each call checks the capability
// it needs at call time and fails with PERMISSION_DENIED when it is not
// both declared and granted. Events, settings, assets and logging are
// baseline facilities with no capability. Everything registered through a
// Context is owned by its extension and revoked on deactivation. Once the
// extension is deactivated every call fails with EXTENSION_INACTIVE.
type Context struct {
	id     string
	m      *manifest.Manifest
	h      *Host
	guard  *Guard
	stack  *dispose.Stack
	logger *slog.Logger
	alive  atomic.Bool
}

func newContext(h *Host, m *manifest.Manifest, guard *Guard, stack *dispose.Stack) *Context {
	c := &Context{
		id:     m.ID,
		m:      m,
		h:      h,
		guard:  guard,
		stack:  stack,
		logger: h.logger.With("extension", m.ID),
	}
	c.alive.Store(true)
	return c
}

// ExtensionID returns the owning extension id.
func (c *Context) ExtensionID() string { return c.id }

// Manifest returns the validated manifest. Callers must not modify it.
func (c *Context) Manifest() *manifest.Manifest { return c.m }

// Has reports whether capability cap is declared and granted.
func (c *Context) Has(cap manifest.Capability) bool {
	return c.h.enforcer.Check(c.id, cap)
}

// Active reports whether the extension is still active.
func (c *Context) Active() bool { return c.alive.Load() }

// Logger returns a logger tagged with the extension id.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Log writes one extension log line.
func (c *Context) Log(ctx context.Context, level slog.Level, msg string, args ...any) {
	c.logger.Log(ctx, level, msg, args...)
}

// NewRequestID returns a fresh ULID string.
func (c *Context) NewRequestID() string { return ulid.Make().String() }

func (c *Context) require(capability manifest.Capability, facility string) error {
	if !c.alive.Load() {
		return inactive(c.id, facility)
	}
	if capability != "" && !c.h.enforcer.Check(c.id, capability) {
		return permissionDenied(c.id, capability, facility)
	}
	return nil
}

// track records d for revocation on deactivation. The returned handle
// drops d from the record once the extension disposes it.
func (c *Context) track(d dispose.Func) dispose.Func {
	return c.stack.Track(d)
}

// call runs fn inside the extension with the handler timeout applied.
func (c *Context) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := c.h.handlerContext(ctx)
	defer cancel()
	return c.guard.Do(ctx, fn)
}

func (c *Context) wrapRun(run registry.RunFunc) registry.RunFunc {
	if run == nil {
		return nil
	}
	return func(ctx context.Context) error { return c.call(ctx, run) }
}

func (c *Context) wrapHandler(h eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, e eventbus.Event) error {
		return c.call(ctx, func(ctx context.Context) error { return h(ctx, e) })
	}
}

// Commands returns the command facility (ui:commands).
func (c *Context) Commands() Commands { return Commands{c} }

// Panels returns the panel facility (ui:panels).
func (c *Context) Panels() Panels { return Panels{c} }

// Sidebar returns the sidebar facility (ui:sidebar).
func (c *Context) Sidebar() Sidebar { return Sidebar{c} }

// StatusBar returns the status bar facility (ui:statusbar).
func (c *Context) StatusBar() StatusBar { return StatusBar{c} }

// Toolbar returns the toolbar facility (ui:toolbar).
func (c *Context) Toolbar() Toolbar { return Toolbar{c} }

// Workspace returns the workspace facility (file:read, file:write).
func (c *Context) Workspace() Workspace { return Workspace{c} }

// Storage returns the key-value facility (storage).
func (c *Context) Storage() Storage { return Storage{c} }

// Settings returns the settings facility.
func (c *Context) Settings() Settings { return Settings{c} }

// Events returns the event facility.
func (c *Context) Events() Events { return Events{c} }

// Assets returns the bundled-asset facility.
func (c *Context) Assets() Assets { return Assets{c} }

// Commands registers commands.
type Commands struct{ c *Context }

// Register adds cmd owned by the extension. A missing Title or Shortcut is
// taken from the manifest's command descriptor with the same id.
func (f Commands) Register(cmd registry.Command) (dispose.Func, error) {
	c := f.c
	if err := c.require(manifest.CapUICommands, "commands.register"); err != nil {
		return nil, err
	}
	if d, ok := c.m.CommandDescriptor(cmd.ID); ok {
		if cmd.Title == "" {
			cmd.Title = d.Title
		}
		if cmd.Shortcut == "" {
			cmd.Shortcut = d.Shortcut
		}
	}
	cmd.Owner = c.id
	cmd.Run = c.wrapRun(cmd.Run)
	d, err := c.h.regs.Commands.Register(cmd)
	if err != nil {
		return nil, oops.With("extension", c.id).Wrap(err)
	}
	return c.track(d), nil
}

// Execute runs any registered command, including other extensions'.
func (f Commands) Execute(ctx context.Context, id string) error {
	if err := f.c.require(manifest.CapUICommands, "commands.execute"); err != nil {
		return err
	}
	return f.c.h.ExecuteCommand(ctx, id)
}

// Panels registers side panels.
type Panels struct{ c *Context }

// Register adds p owned by the extension. Position defaults to left.
func (f Panels) Register(p registry.Panel) (dispose.Func, error) {
	c := f.c
	if err := c.require(manifest.CapUIPanels, "panels.register"); err != nil {
		return nil, err
	}
	if p.Position == "" {
		p.Position = registry.PanelLeft
	}
	p.Owner = c.id
	if render := p.Render; render != nil {
		p.Render = func(ctx context.Context) (out any, err error) {
			err = c.call(ctx, func(ctx context.Context) error {
				var rerr error
				out, rerr = render(ctx)
				return rerr
			})
			return out, err
		}
	}
	d, err := c.h.regs.Panels.Register(p)
	if err != nil {
		return nil, oops.With("extension", c.id).Wrap(err)
	}
	return c.track(d), nil
}

// Update replaces the data of a panel this extension registered.
func (f Panels) Update(id string, data any) error {
	c := f.c
	if err := c.require(manifest.CapUIPanels, "panels.update"); err != nil {
		return err
	}
	return c.h.regs.Panels.Update(id, func(p registry.Panel) (registry.Panel, error) {
		if p.Owner != c.id {
			return p, permissionDenied(c.id, manifest.CapUIPanels, "panels.update of "+p.Owner+" panel")
		}
		p.Data = data
		return p, nil
	})
}

// Sidebar registers sidebar items.
type Sidebar struct{ c *Context }

// Register adds item owned by the extension. Position defaults to top.
func (f Sidebar) Register(item registry.SidebarItem) (dispose.Func, error) {
	c := f.c
	if err := c.require(manifest.CapUISidebar, "sidebar.register"); err != nil {
		return nil, err
	}
	if item.Position == "" {
		item.Position = registry.SidebarTop
	}
	item.Owner = c.id
	item.Run = c.wrapRun(item.Run)
	d, err := c.h.regs.Sidebar.Register(item)
	if err != nil {
		return nil, oops.With("extension", c.id).Wrap(err)
	}
	return c.track(d), nil
}

// StatusBar registers status bar items.
type StatusBar struct{ c *Context }

// Register adds item owned by the extension. Position defaults to left.
func (f StatusBar) Register(item registry.StatusBarItem) (dispose.Func, error) {
	c := f.c
	if err := c.require(manifest.CapUIStatusBar, "statusbar.register"); err != nil {
		return nil, err
	}
	if item.Position == "" {
		item.Position = registry.StatusBarLeft
	}
	item.Owner = c.id
	item.Run = c.wrapRun(item.Run)
	d, err := c.h.regs.StatusBar.Register(item)
	if err != nil {
		return nil, oops.With("extension", c.id).Wrap(err)
	}
	return c.track(d), nil
}

// Update changes the text of an item this extension registered. An empty
// tooltip keeps the current one.
func (f StatusBar) Update(id, title, tooltip string) error {
	c := f.c
	if err := c.require(manifest.CapUIStatusBar, "statusbar.update"); err != nil {
		return err
	}
	return c.h.regs.StatusBar.Update(id, func(item registry.StatusBarItem) (registry.StatusBarItem, error) {
		if item.Owner != c.id {
			return item, permissionDenied(c.id, manifest.CapUIStatusBar, "statusbar.update of "+item.Owner+" item")
		}
		item.Title = title
		if tooltip != "" {
			item.Tooltip = tooltip
		}
		return item, item.Validate()
	})
}

// Toolbar registers toolbar buttons.
type Toolbar struct{ c *Context }

// Register adds item owned by the extension.
func (f Toolbar) Register(item registry.ToolbarItem) (dispose.Func, error) {
	c := f.c
	if err := c.require(manifest.CapUIToolbar, "toolbar.register"); err != nil {
		return nil, err
	}
	item.Owner = c.id
	item.Run = c.wrapRun(item.Run)
	d, err := c.h.regs.Toolbar.Register(item)
	if err != nil {
		return nil, oops.With("extension", c.id).Wrap(err)
	}
	return c.track(d), nil
}

// Workspace reads and writes files in the open vault.
type Workspace struct{ c *Context }

func (f Workspace) vault(capability manifest.Capability, facility string) (*workspace.Vault, error) {
	if err := f.c.require(capability, facility); err != nil {
		return nil, err
	}
	v := f.c.h.Vault()
	if v == nil {
		return nil, noWorkspace(f.c.id)
	}
	return v, nil
}

// ReadFile returns the contents of a vault file (file:read).
func (f Workspace) ReadFile(ctx context.Context, path string) ([]byte, error) {
	v, err := f.vault(manifest.CapFileRead, "workspace.readFile")
	if err != nil {
		return nil, err
	}
	return v.ReadFile(ctx, path)
}

// WriteFile creates or replaces a vault file (file:write).
func (f Workspace) WriteFile(ctx context.Context, path string, data []byte) error {
	v, err := f.vault(manifest.CapFileWrite, "workspace.writeFile")
	if err != nil {
		return err
	}
	return v.WriteFile(ctx, path, data)
}

// List returns the vault's files (file:read).
func (f Workspace) List(ctx context.Context) ([]workspace.File, error) {
	v, err := f.vault(manifest.CapFileRead, "workspace.list")
	if err != nil {
		return nil, err
	}
	return v.List(ctx)
}

// ActiveFile returns the active file path, or "" (file:read).
func (f Workspace) ActiveFile() (string, error) {
	v, err := f.vault(manifest.CapFileRead, "workspace.activeFile")
	if err != nil {
		return "", err
	}
	return v.ActiveFile(), nil
}

// Storage is the extension's private key-value namespace.
type Storage struct{ c *Context }

// Get returns the value for key; a missing key yields nil and no error.
func (f Storage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := f.c.require(manifest.CapStorage, "storage.get"); err != nil {
		return nil, err
	}
	v, err := f.c.h.kv.Get(ctx, f.c.id, key)
	if store.IsNotFound(err) {
		return nil, nil
	}
	return v, err
}

// Set stores value under key.
func (f Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := f.c.require(manifest.CapStorage, "storage.set"); err != nil {
		return err
	}
	return f.c.h.kv.Set(ctx, f.c.id, key, value)
}

// Delete removes key. Missing keys are not an error.
func (f Storage) Delete(ctx context.Context, key string) error {
	if err := f.c.require(manifest.CapStorage, "storage.delete"); err != nil {
		return err
	}
	err := f.c.h.kv.Delete(ctx, f.c.id, key)
	if store.IsNotFound(err) {
		return nil
	}
	return err
}

// Keys lists stored keys in order.
func (f Storage) Keys(ctx context.Context) ([]string, error) {
	if err := f.c.require(manifest.CapStorage, "storage.keys"); err != nil {
		return nil, err
	}
	return f.c.h.kv.Keys(ctx, f.c.id)
}

// Settings reads the extension's user settings.
type Settings struct{ c *Context }

// Get returns the effective value of key; ok is false for undeclared keys.
func (f Settings) Get(key string) (any, bool, error) {
	if err := f.c.require("", "settings.get"); err != nil {
		return nil, false, err
	}
	v, ok := f.c.h.settings.Get(f.c.m, key)
	return v, ok, nil
}

// All returns every declared setting's effective value.
func (f Settings) All() (map[string]any, error) {
	if err := f.c.require("", "settings.all"); err != nil {
		return nil, err
	}
	return f.c.h.settings.Values(f.c.m), nil
}

// OnChange calls fn with the new value whenever key changes.
func (f Settings) OnChange(key string, fn func(ctx context.Context, value any) error) (dispose.Func, error) {
	c := f.c
	if err := c.require("", "settings.onChange"); err != nil {
		return nil, err
	}
	d := c.h.settings.OnChange(c.id, key, func(ctx context.Context, value any) {
		if err := c.call(ctx, func(ctx context.Context) error { return fn(ctx, value) }); err != nil {
			errutil.LogWarn(c.logger, "settings observer failed", err, "key", key)
		}
	})
	return c.track(d), nil
}

// Events subscribes to host events.
type Events struct{ c *Context }

func (f Events) on(topic eventbus.Topic, facility string, h eventbus.Handler) (dispose.Func, error) {
	c := f.c
	if err := c.require("", facility); err != nil {
		return nil, err
	}
	d, err := c.h.bus.Subscribe(c.id, topic, c.wrapHandler(h))
	if err != nil {
		return nil, err
	}
	return c.track(d), nil
}

// OnActiveFileChange subscribes to active-file-changed.
func (f Events) OnActiveFileChange(h eventbus.Handler) (dispose.Func, error) {
	return f.on(eventbus.ActiveFileChanged, "events.onActiveFileChange", h)
}

// OnFileSave subscribes to file-saved.
func (f Events) OnFileSave(h eventbus.Handler) (dispose.Func, error) {
	return f.on(eventbus.FileSaved, "events.onFileSave", h)
}

// OnWorkspaceOpen subscribes to workspace-opened.
func (f Events) OnWorkspaceOpen(h eventbus.Handler) (dispose.Func, error) {
	return f.on(eventbus.WorkspaceOpened, "events.onWorkspaceOpen", h)
}

// OnVaultChange subscribes to vault-changed.
func (f Events) OnVaultChange(h eventbus.Handler) (dispose.Func, error) {
	return f.on(eventbus.VaultChanged, "events.onVaultChange", h)
}

// Assets reads files bundled in the extension package.
type Assets struct{ c *Context }

// ReadText returns a bundled text file.
func (f Assets) ReadText(ctx context.Context, path string) (string, error) {
	if err := f.c.require("", "assets.readText"); err != nil {
		return "", err
	}
	return f.c.h.repo.ReadText(ctx, f.c.id, path)
}

// URL returns the address at which a bundled file is served.
func (f Assets) URL(path string) (string, error) {
	if err := f.c.require("", "assets.getUrl"); err != nil {
		return "", err
	}
	return f.c.h.repo.URL(f.c.id, path)
}
