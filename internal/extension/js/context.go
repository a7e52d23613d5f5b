// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package js

import (
	"context"
	"log/slog"

	"github.com/dop251/goja"

	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/internal/workspace"
)

type fn = func(goja.FunctionCall) goja.Value

// contextObject builds the ctx object passed to activate.
func (i *instance) contextObject(c *extension.Context) (*goja.Object, error) {
	vm := i.vm
	undefined := goja.Undefined()

	groups := map[string]map[string]fn{
		"commands": {
			"register": func(call goja.FunctionCall) goja.Value {
				def := i.argObject(call, 0)
				d, err := c.Commands().Register(registry.Command{
					ID:       str(def, "id"),
					Title:    str(def, "title"),
					Shortcut: str(def, "shortcut"),
					Run:      i.runFunc(def, "run"),
				})
				return i.registered(d, err)
			},
			"execute": func(call goja.FunctionCall) goja.Value {
				if err := c.Commands().Execute(i.current(), i.argString(call, 0, "id")); err != nil {
					i.throw(err)
				}
				return undefined
			},
		},
		"panels": {
			"register": i.registerPanel(c),
			"update": func(call goja.FunctionCall) goja.Value {
				if err := c.Panels().Update(i.argString(call, 0, "id"), call.Argument(1).Export()); err != nil {
					i.throw(err)
				}
				return undefined
			},
		},
		"sidebar": {
			"register": func(call goja.FunctionCall) goja.Value {
				def := i.argObject(call, 0)
				d, err := c.Sidebar().Register(registry.SidebarItem{
					ID:       str(def, "id"),
					Title:    str(def, "title"),
					Icon:     str(def, "icon"),
					Position: registry.SidebarPosition(str(def, "position")),
					Run:      i.runFunc(def, "run"),
				})
				return i.registered(d, err)
			},
		},
		"statusBar": {
			"register": func(call goja.FunctionCall) goja.Value {
				def := i.argObject(call, 0)
				d, err := c.StatusBar().Register(registry.StatusBarItem{
					ID:       str(def, "id"),
					Title:    str(def, "title"),
					Tooltip:  str(def, "tooltip"),
					Position: registry.StatusBarPosition(str(def, "position")),
					Run:      i.runFunc(def, "run"),
				})
				return i.registered(d, err)
			},
			"update": func(call goja.FunctionCall) goja.Value {
				tooltip := ""
				if v := call.Argument(2); !goja.IsUndefined(v) && !goja.IsNull(v) {
					tooltip = v.String()
				}
				if err := c.StatusBar().Update(i.argString(call, 0, "id"), i.argString(call, 1, "title"), tooltip); err != nil {
					i.throw(err)
				}
				return undefined
			},
		},
		"toolbar": {
			"register": func(call goja.FunctionCall) goja.Value {
				def := i.argObject(call, 0)
				d, err := c.Toolbar().Register(registry.ToolbarItem{
					ID:    str(def, "id"),
					Title: str(def, "title"),
					Icon:  str(def, "icon"),
					Group: str(def, "group"),
					Run:   i.runFunc(def, "run"),
				})
				return i.registered(d, err)
			},
		},
		"workspace": i.workspaceFuncs(c),
		"storage":   i.storageFuncs(c),
		"settings":  i.settingsFuncs(c),
		"events":    i.eventsFuncs(c),
		"assets": {
			"readText": func(call goja.FunctionCall) goja.Value {
				text, err := c.Assets().ReadText(i.current(), i.argString(call, 0, "path"))
				if err != nil {
					i.throw(err)
				}
				return vm.ToValue(text)
			},
			"getUrl": func(call goja.FunctionCall) goja.Value {
				u, err := c.Assets().URL(i.argString(call, 0, "path"))
				if err != nil {
					i.throw(err)
				}
				return vm.ToValue(u)
			},
		},
	}
	if c.HasVault() {
		groups["vault"] = i.vaultFuncs(c)
	}

	obj := vm.NewObject()
	top := map[string]any{
		"extensionId": c.ExtensionID(),
		"log": func(call goja.FunctionCall) goja.Value {
			lvl := slog.LevelInfo
			switch call.Argument(0).String() {
			case "debug":
				lvl = slog.LevelDebug
			case "warn":
				lvl = slog.LevelWarn
			case "error":
				lvl = slog.LevelError
			}
			c.Log(i.current(), lvl, i.argString(call, 1, "message"))
			return undefined
		},
		"newRequestId": func(goja.FunctionCall) goja.Value {
			return vm.ToValue(c.NewRequestID())
		},
		"has": func(call goja.FunctionCall) goja.Value {
			return vm.ToValue(c.Has(manifest.Capability(i.argString(call, 0, "capability"))))
		},
	}
	for name, v := range top {
		if err := obj.Set(name, v); err != nil {
			return nil, err
		}
	}
	for name, funcs := range groups {
		g := vm.NewObject()
		for fname, f := range funcs {
			if err := g.Set(fname, f); err != nil {
				return nil, err
			}
		}
		if err := obj.Set(name, g); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

func (i *instance) registerPanel(c *extension.Context) fn {
	return func(call goja.FunctionCall) goja.Value {
		def := i.argObject(call, 0)
		p := registry.Panel{
			ID:       str(def, "id"),
			Title:    str(def, "title"),
			Position: registry.PanelPosition(str(def, "position")),
		}
		if v := def.Get("data"); v != nil {
			p.Data = v.Export()
		}
		if v := def.Get("schema"); v != nil {
			if schema, ok := v.Export().(map[string]any); ok {
				p.Schema = schema
			}
		}
		if render, ok := goja.AssertFunction(def.Get("render")); ok {
			p.Render = func(ctx context.Context) (any, error) {
				v, err := i.call(ctx, render)
				if err != nil {
					return nil, err
				}
				return v.Export(), nil
			}
		}
		d, err := c.Panels().Register(p)
		return i.registered(d, err)
	}
}

func (i *instance) workspaceFuncs(c *extension.Context) map[string]fn {
	vm := i.vm
	ws := c.Workspace()
	return map[string]fn{
		"readFile": func(call goja.FunctionCall) goja.Value {
			data, err := ws.ReadFile(i.current(), i.argString(call, 0, "path"))
			if err != nil {
				i.throw(err)
			}
			return vm.ToValue(string(data))
		},
		"writeFile": func(call goja.FunctionCall) goja.Value {
			if err := ws.WriteFile(i.current(), i.argString(call, 0, "path"), []byte(call.Argument(1).String())); err != nil {
				i.throw(err)
			}
			return goja.Undefined()
		},
		"list": func(goja.FunctionCall) goja.Value {
			files, err := ws.List(i.current())
			if err != nil {
				i.throw(err)
			}
			return i.files(files)
		},
		"activeFile": func(goja.FunctionCall) goja.Value {
			p, err := ws.ActiveFile()
			if err != nil {
				i.throw(err)
			}
			return vm.ToValue(p)
		},
	}
}

func (i *instance) storageFuncs(c *extension.Context) map[string]fn {
	vm := i.vm
	st := c.Storage()
	return map[string]fn{
		"get": func(call goja.FunctionCall) goja.Value {
			v, err := st.Get(i.current(), i.argString(call, 0, "key"))
			if err != nil {
				i.throw(err)
			}
			if v == nil {
				return goja.Null()
			}
			return vm.ToValue(string(v))
		},
		"set": func(call goja.FunctionCall) goja.Value {
			if err := st.Set(i.current(), i.argString(call, 0, "key"), []byte(call.Argument(1).String())); err != nil {
				i.throw(err)
			}
			return goja.Undefined()
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			if err := st.Delete(i.current(), i.argString(call, 0, "key")); err != nil {
				i.throw(err)
			}
			return goja.Undefined()
		},
		"keys": func(goja.FunctionCall) goja.Value {
			keys, err := st.Keys(i.current())
			if err != nil {
				i.throw(err)
			}
			return i.array(keys)
		},
	}
}

func (i *instance) settingsFuncs(c *extension.Context) map[string]fn {
	vm := i.vm
	s := c.Settings()
	return map[string]fn{
		"get": func(call goja.FunctionCall) goja.Value {
			v, _, err := s.Get(i.argString(call, 0, "key"))
			if err != nil {
				i.throw(err)
			}
			return vm.ToValue(v)
		},
		"all": func(goja.FunctionCall) goja.Value {
			values, err := s.All()
			if err != nil {
				i.throw(err)
			}
			return vm.ToValue(values)
		},
		"onChange": func(call goja.FunctionCall) goja.Value {
			key := i.argString(call, 0, "key")
			handler := i.argFunc(call, 1)
			d, err := s.OnChange(key, func(ctx context.Context, value any) error {
				_, err := i.call(ctx, handler, value)
				return err
			})
			return i.registered(d, err)
		},
	}
}

func (i *instance) eventsFuncs(c *extension.Context) map[string]fn {
	ev := c.Events()
	subscribe := func(on func(eventbus.Handler) (dispose.Func, error), args func(eventbus.Event) []any) fn {
		return func(call goja.FunctionCall) goja.Value {
			handler := i.argFunc(call, 0)
			d, err := on(func(ctx context.Context, e eventbus.Event) error {
				_, err := i.call(ctx, handler, args(e)...)
				return err
			})
			return i.registered(d, err)
		}
	}
	path := func(e eventbus.Event) []any { return []any{e.Path} }
	return map[string]fn{
		"onActiveFileChange": subscribe(ev.OnActiveFileChange, path),
		"onFileSave":         subscribe(ev.OnFileSave, path),
		"onWorkspaceOpen": subscribe(ev.OnWorkspaceOpen, func(e eventbus.Event) []any {
			return []any{e.Root}
		}),
		"onVaultChange": subscribe(ev.OnVaultChange, func(e eventbus.Event) []any {
			return []any{string(e.Kind), e.Path, e.OldPath}
		}),
	}
}

func (i *instance) vaultFuncs(c *extension.Context) map[string]fn {
	vm := i.vm
	v, _ := c.Vault()
	return map[string]fn{
		"getFiles": func(goja.FunctionCall) goja.Value {
			files, err := v.Files(i.current())
			if err != nil {
				i.throw(err)
			}
			return i.files(files)
		},
		"getActiveFile": func(goja.FunctionCall) goja.Value {
			p, err := v.ActiveFile()
			if err != nil {
				i.throw(err)
			}
			return vm.ToValue(p)
		},
		"create": func(call goja.FunctionCall) goja.Value {
			content := ""
			if a := call.Argument(1); !goja.IsUndefined(a) && !goja.IsNull(a) {
				content = a.String()
			}
			if err := v.Create(i.current(), i.argString(call, 0, "path"), []byte(content)); err != nil {
				i.throw(err)
			}
			return goja.Undefined()
		},
		"rename": func(call goja.FunctionCall) goja.Value {
			if err := v.Rename(i.current(), i.argString(call, 0, "path"), i.argString(call, 1, "newPath")); err != nil {
				i.throw(err)
			}
			return goja.Undefined()
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			if err := v.Delete(i.current(), i.argString(call, 0, "path")); err != nil {
				i.throw(err)
			}
			return goja.Undefined()
		},
		"on": func(call goja.FunctionCall) goja.Value {
			kind := eventbus.ChangeKind(i.argString(call, 0, "kind"))
			handler := i.argFunc(call, 1)
			d, err := v.On(kind, func(ctx context.Context, path, oldPath string) error {
				_, err := i.call(ctx, handler, path, oldPath)
				return err
			})
			return i.registered(d, err)
		},
		"onActiveFileChange": func(call goja.FunctionCall) goja.Value {
			handler := i.argFunc(call, 0)
			d, err := v.OnActiveFileChange(func(ctx context.Context, path string) error {
				_, err := i.call(ctx, handler, path)
				return err
			})
			return i.registered(d, err)
		},
	}
}

// registered returns a dispose function to the script, or throws err.
func (i *instance) registered(d dispose.Func, err error) goja.Value {
	if err != nil {
		i.throw(err)
	}
	return i.vm.ToValue(func(goja.FunctionCall) goja.Value {
		d()
		return goja.Undefined()
	})
}

// runFunc adapts the function at def[key], if any.
func (i *instance) runFunc(def *goja.Object, key string) registry.RunFunc {
	run, ok := goja.AssertFunction(def.Get(key))
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		_, err := i.call(ctx, run)
		return err
	}
}

func (i *instance) array(items []string) goja.Value {
	vals := make([]any, len(items))
	for j, s := range items {
		vals[j] = s
	}
	return i.vm.NewArray(vals...)
}

func (i *instance) files(files []workspace.File) goja.Value {
	vals := make([]any, len(files))
	for j, f := range files {
		obj := i.vm.NewObject()
		_ = obj.Set("path", f.Path)
		_ = obj.Set("name", f.Name)
		_ = obj.Set("ext", f.Ext)
		_ = obj.Set("size", f.Size)
		_ = obj.Set("modTime", f.ModTime.Unix())
		vals[j] = obj
	}
	return i.vm.NewArray(vals...)
}
