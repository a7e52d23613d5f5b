// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package lua

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/quire-editor/quire/internal/extension"
	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/pkg/errutil"
)

// CodeLoadFailed is returned when an extension script does not load.
const CodeLoadFailed = "LUA_LOAD_FAILED"

// Compile-time interface check.
var _ extension.Runtime = (*Runtime)(nil)

// Runtime loads Lua extensions. Each instance owns one state for its whole
// activation so closures registered during activate stay callable.
type Runtime struct {
	factory *StateFactory
	logger  *slog.Logger
}

// NewRuntime creates a Lua runtime. A nil logger uses slog.Default.
func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{factory: NewStateFactory(), logger: logger}
}

// Type implements extension.Runtime.
func (r *Runtime) Type() manifest.Type { return manifest.TypeLua }

// Load runs the script's top level in a fresh sandboxed state. The script
// is expected to define a global activate(ctx) and optionally
// deactivate().
func (r *Runtime) Load(ctx context.Context, m *manifest.Manifest, code string) (extension.Instance, error) {
	logger := r.logger.With("extension", m.ID, "runtime", "lua")
	L, err := r.factory.NewState(logger)
	if err != nil {
		return nil, oops.In("lua").With("extension", m.ID).Hint("failed to create state").Wrap(err)
	}
	inst := &instance{id: m.ID, L: L, logger: logger}
	if err := inst.run(ctx, func() error { return L.DoString(code) }); err != nil {
		L.Close()
		return nil, oops.In("lua").Code(CodeLoadFailed).
			With("extension", m.ID).
			With("main", m.Main).
			Hint("check the script for syntax errors").
			Wrap(err)
	}
	return inst, nil
}

type instance struct {
	id     string
	L      *lua.LState
	logger *slog.Logger
	// raised is the Go error behind the Lua error currently unwinding.
	raised error
}

// Activate calls the global activate(ctx). A script without one activates
// with only its manifest contributions.
func (i *instance) Activate(ctx context.Context, c *extension.Context) error {
	fn, err := i.global("activate")
	if err != nil || fn == nil {
		return err
	}
	_, err = i.call(ctx, fn, 0, i.contextTable(c))
	return err
}

// Deactivate calls the global deactivate() when defined.
func (i *instance) Deactivate(ctx context.Context) error {
	fn, err := i.global("deactivate")
	if err != nil || fn == nil {
		return err
	}
	_, err = i.call(ctx, fn, 0)
	return err
}

func (i *instance) Close() error {
	i.L.Close()
	return nil
}

func (i *instance) global(name string) (*lua.LFunction, error) {
	switch v := i.L.GetGlobal(name).(type) {
	case *lua.LFunction:
		return v, nil
	case *lua.LNilType:
		return nil, nil
	default:
		return nil, oops.In("lua").With("extension", i.id).
			Errorf("global %s is a %s, not a function", name, v.Type())
	}
}

// call invokes fn with ctx installed on the state and returns nret
// results.
func (i *instance) call(ctx context.Context, fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	var rets []lua.LValue
	err := i.run(ctx, func() error {
		if err := i.L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
			return err
		}
		rets = make([]lua.LValue, nret)
		for j := range nret {
			rets[j] = i.L.Get(j - nret)
		}
		i.L.Pop(nret)
		return nil
	})
	return rets, err
}

// run executes fn with ctx as the state's context, restoring the outer
// context afterwards so nested calls unwind cleanly.
func (i *instance) run(ctx context.Context, fn func() error) error {
	prev := i.L.Context()
	i.L.SetContext(ctx)
	saved := i.raised
	i.raised = nil

	err := fn()

	raised := i.raised
	i.raised = saved
	if prev != nil {
		i.L.SetContext(prev)
	} else {
		i.L.RemoveContext()
	}

	if err == nil {
		return nil
	}
	b := oops.In("lua").With("extension", i.id)
	if raised != nil && strings.Contains(err.Error(), raised.Error()) {
		return b.With("lua_error", err.Error()).Wrap(raised)
	}
	if cerr := ctx.Err(); cerr != nil {
		return b.With("lua_error", err.Error()).Wrap(cerr)
	}
	return b.Wrap(err)
}

// raise aborts the running Lua code with err.
func (i *instance) raise(L *lua.LState, err error) int {
	i.raised = err
	L.RaiseError("%s", err.Error())
	return 0
}

// fail reports err to Lua. Capability and lifecycle violations raise;
// other failures return nvals nils followed by the error message.
func (i *instance) fail(L *lua.LState, nvals int, err error) int {
	if errutil.HasCode(err, extension.CodePermissionDenied) || errutil.HasCode(err, extension.CodeExtensionInactive) {
		return i.raise(L, err)
	}
	for range nvals {
		L.Push(lua.LNil)
	}
	L.Push(lua.LString(err.Error()))
	return nvals + 1
}
