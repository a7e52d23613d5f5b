// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package lua

import (
	"context"
	"log/slog"

	lua "github.com/yuin/gopher-lua"

	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/internal/workspace"
)

// contextTable builds the ctx table passed to activate. Facility calls
// that violate a capability raise a Lua error; other failures come back as
// a trailing error string.
func (i *instance) contextTable(c *extension.Context) *lua.LTable {
	L := i.L
	t := L.NewTable()
	L.SetField(t, "extension_id", lua.LString(c.ExtensionID()))
	L.SetField(t, "log", L.NewFunction(i.logFn(c)))
	L.SetField(t, "new_request_id", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(c.NewRequestID()))
		return 1
	}))
	L.SetField(t, "has", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(c.Has(manifest.Capability(L.CheckString(1)))))
		return 1
	}))

	L.SetField(t, "commands", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register": i.registerCommand(c),
		"execute": func(L *lua.LState) int {
			if err := c.Commands().Execute(stateContext(L), L.CheckString(1)); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
	}))
	L.SetField(t, "panels", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register": i.registerPanel(c),
		"update": func(L *lua.LState) int {
			if err := c.Panels().Update(L.CheckString(1), toGo(L.Get(2))); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
	}))
	L.SetField(t, "sidebar", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register": func(L *lua.LState) int {
			def := L.CheckTable(1)
			d, err := c.Sidebar().Register(registry.SidebarItem{
				ID:       str(def, "id"),
				Title:    str(def, "title"),
				Icon:     str(def, "icon"),
				Position: registry.SidebarPosition(str(def, "position")),
				Run:      i.runFunc(def, "run"),
			})
			return i.registered(L, d, err)
		},
	}))
	L.SetField(t, "status_bar", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register": func(L *lua.LState) int {
			def := L.CheckTable(1)
			d, err := c.StatusBar().Register(registry.StatusBarItem{
				ID:       str(def, "id"),
				Title:    str(def, "title"),
				Tooltip:  str(def, "tooltip"),
				Position: registry.StatusBarPosition(str(def, "position")),
				Run:      i.runFunc(def, "run"),
			})
			return i.registered(L, d, err)
		},
		"update": func(L *lua.LState) int {
			if err := c.StatusBar().Update(L.CheckString(1), L.CheckString(2), L.OptString(3, "")); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
	}))
	L.SetField(t, "toolbar", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register": func(L *lua.LState) int {
			def := L.CheckTable(1)
			d, err := c.Toolbar().Register(registry.ToolbarItem{
				ID:    str(def, "id"),
				Title: str(def, "title"),
				Icon:  str(def, "icon"),
				Group: str(def, "group"),
				Run:   i.runFunc(def, "run"),
			})
			return i.registered(L, d, err)
		},
	}))
	L.SetField(t, "workspace", i.workspaceTable(c))
	L.SetField(t, "storage", i.storageTable(c))
	L.SetField(t, "settings", i.settingsTable(c))
	L.SetField(t, "events", i.eventsTable(c))
	L.SetField(t, "assets", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read_text": func(L *lua.LState) int {
			text, err := c.Assets().ReadText(stateContext(L), L.CheckString(1))
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(lua.LString(text))
			return 1
		},
		"get_url": func(L *lua.LState) int {
			u, err := c.Assets().URL(L.CheckString(1))
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(lua.LString(u))
			return 1
		},
	}))
	if c.HasVault() {
		L.SetField(t, "vault", i.vaultTable(c))
	}
	return t
}

func (i *instance) logFn(c *extension.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		lvl := slog.LevelInfo
		switch level {
		case "debug":
			lvl = slog.LevelDebug
		case "warn":
			lvl = slog.LevelWarn
		case "error":
			lvl = slog.LevelError
		}
		c.Log(stateContext(L), lvl, message)
		return 0
	}
}

func (i *instance) registerCommand(c *extension.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		def := L.CheckTable(1)
		d, err := c.Commands().Register(registry.Command{
			ID:       str(def, "id"),
			Title:    str(def, "title"),
			Shortcut: str(def, "shortcut"),
			Run:      i.runFunc(def, "run"),
		})
		return i.registered(L, d, err)
	}
}

func (i *instance) registerPanel(c *extension.Context) lua.LGFunction {
	return func(L *lua.LState) int {
		def := L.CheckTable(1)
		p := registry.Panel{
			ID:       str(def, "id"),
			Title:    str(def, "title"),
			Position: registry.PanelPosition(str(def, "position")),
			Data:     toGo(def.RawGetString("data")),
		}
		if schema, ok := toGo(def.RawGetString("schema")).(map[string]any); ok {
			p.Schema = schema
		}
		if fn, ok := def.RawGetString("render").(*lua.LFunction); ok {
			p.Render = func(ctx context.Context) (any, error) {
				rets, err := i.call(ctx, fn, 1)
				if err != nil {
					return nil, err
				}
				return toGo(rets[0]), nil
			}
		}
		d, err := c.Panels().Register(p)
		return i.registered(L, d, err)
	}
}

func (i *instance) workspaceTable(c *extension.Context) *lua.LTable {
	L := i.L
	ws := c.Workspace()
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read_file": func(L *lua.LState) int {
			data, err := ws.ReadFile(stateContext(L), L.CheckString(1))
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(lua.LString(string(data)))
			return 1
		},
		"write_file": func(L *lua.LState) int {
			if err := ws.WriteFile(stateContext(L), L.CheckString(1), []byte(L.CheckString(2))); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
		"list": func(L *lua.LState) int {
			files, err := ws.List(stateContext(L))
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(filesTable(L, files))
			return 1
		},
		"active_file": func(L *lua.LState) int {
			p, err := ws.ActiveFile()
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(lua.LString(p))
			return 1
		},
	})
}

func (i *instance) storageTable(c *extension.Context) *lua.LTable {
	L := i.L
	st := c.Storage()
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			v, err := st.Get(stateContext(L), L.CheckString(1))
			if err != nil {
				return i.fail(L, 1, err)
			}
			if v == nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(string(v)))
			return 1
		},
		"set": func(L *lua.LState) int {
			if err := st.Set(stateContext(L), L.CheckString(1), []byte(L.CheckString(2))); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
		"delete": func(L *lua.LState) int {
			if err := st.Delete(stateContext(L), L.CheckString(1)); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
		"keys": func(L *lua.LState) int {
			keys, err := st.Keys(stateContext(L))
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(toLua(L, keys))
			return 1
		},
	})
}

func (i *instance) settingsTable(c *extension.Context) *lua.LTable {
	L := i.L
	s := c.Settings()
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get": func(L *lua.LState) int {
			v, _, err := s.Get(L.CheckString(1))
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(toLua(L, v))
			return 1
		},
		"all": func(L *lua.LState) int {
			values, err := s.All()
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(toLua(L, values))
			return 1
		},
		"on_change": func(L *lua.LState) int {
			key := L.CheckString(1)
			fn := L.CheckFunction(2)
			d, err := s.OnChange(key, func(ctx context.Context, value any) error {
				_, err := i.call(ctx, fn, 0, toLua(i.L, value))
				return err
			})
			return i.registered(L, d, err)
		},
	})
}

func (i *instance) eventsTable(c *extension.Context) *lua.LTable {
	L := i.L
	ev := c.Events()
	subscribe := func(on func(eventbus.Handler) (dispose.Func, error), args func(eventbus.Event) []lua.LValue) lua.LGFunction {
		return func(L *lua.LState) int {
			fn := L.CheckFunction(1)
			d, err := on(func(ctx context.Context, e eventbus.Event) error {
				_, err := i.call(ctx, fn, 0, args(e)...)
				return err
			})
			return i.registered(L, d, err)
		}
	}
	path := func(e eventbus.Event) []lua.LValue { return []lua.LValue{lua.LString(e.Path)} }
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on_active_file_change": subscribe(ev.OnActiveFileChange, path),
		"on_file_save":          subscribe(ev.OnFileSave, path),
		"on_workspace_open": subscribe(ev.OnWorkspaceOpen, func(e eventbus.Event) []lua.LValue {
			return []lua.LValue{lua.LString(e.Root)}
		}),
		"on_vault_change": subscribe(ev.OnVaultChange, func(e eventbus.Event) []lua.LValue {
			return []lua.LValue{lua.LString(string(e.Kind)), lua.LString(e.Path), lua.LString(e.OldPath)}
		}),
	})
}

func (i *instance) vaultTable(c *extension.Context) *lua.LTable {
	L := i.L
	v, _ := c.Vault()
	return L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get_files": func(L *lua.LState) int {
			files, err := v.Files(stateContext(L))
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(filesTable(L, files))
			return 1
		},
		"get_active_file": func(L *lua.LState) int {
			p, err := v.ActiveFile()
			if err != nil {
				return i.fail(L, 1, err)
			}
			L.Push(lua.LString(p))
			return 1
		},
		"create": func(L *lua.LState) int {
			if err := v.Create(stateContext(L), L.CheckString(1), []byte(L.OptString(2, ""))); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
		"rename": func(L *lua.LState) int {
			if err := v.Rename(stateContext(L), L.CheckString(1), L.CheckString(2)); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
		"delete": func(L *lua.LState) int {
			if err := v.Delete(stateContext(L), L.CheckString(1)); err != nil {
				return i.fail(L, 0, err)
			}
			return 0
		},
		"on": func(L *lua.LState) int {
			kind := eventbus.ChangeKind(L.CheckString(1))
			fn := L.CheckFunction(2)
			d, err := v.On(kind, func(ctx context.Context, path, oldPath string) error {
				_, err := i.call(ctx, fn, 0, lua.LString(path), lua.LString(oldPath))
				return err
			})
			return i.registered(L, d, err)
		},
		"on_active_file_change": func(L *lua.LState) int {
			fn := L.CheckFunction(1)
			d, err := v.OnActiveFileChange(func(ctx context.Context, path string) error {
				_, err := i.call(ctx, fn, 0, lua.LString(path))
				return err
			})
			return i.registered(L, d, err)
		},
	})
}

// registered returns a dispose function to Lua, or nil plus the error.
func (i *instance) registered(L *lua.LState, d dispose.Func, err error) int {
	if err != nil {
		return i.fail(L, 1, err)
	}
	L.Push(L.NewFunction(func(*lua.LState) int {
		d()
		return 0
	}))
	return 1
}

// runFunc adapts the Lua function at def[key], if any.
func (i *instance) runFunc(def *lua.LTable, key string) registry.RunFunc {
	fn, ok := def.RawGetString(key).(*lua.LFunction)
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := i.call(ctx, fn, 0)
		return err
	}
}

func str(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}

func filesTable(L *lua.LState, files []workspace.File) *lua.LTable {
	t := L.CreateTable(len(files), 0)
	for _, f := range files {
		ft := L.CreateTable(0, 5)
		ft.RawSetString("path", lua.LString(f.Path))
		ft.RawSetString("name", lua.LString(f.Name))
		ft.RawSetString("ext", lua.LString(f.Ext))
		ft.RawSetString("size", lua.LNumber(f.Size))
		ft.RawSetString("mod_time", lua.LNumber(f.ModTime.Unix()))
		t.Append(ft)
	}
	return t
}
