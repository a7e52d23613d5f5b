// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package lua runs extensions written in Lua inside a sandboxed
// gopher-lua state.
package lua

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// Safe: base, table, string, math. Never loaded: os, io, debug, package.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions reach the filesystem, load modules or compile
// arbitrary chunks.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "module"}

// Default state limits.
const (
	DefaultCallStackSize = 256
	DefaultRegistrySize  = 1024 * 20
)

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	libraries     []safeLibrary
	callStackSize int
	registrySize  int
}

// NewStateFactory creates a factory with the default libraries and limits.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		libraries:     defaultSafeLibraries(),
		callStackSize: DefaultCallStackSize,
		registrySize:  DefaultRegistrySize,
	}
}

// NewState creates a fresh Lua state with only safe libraries loaded.
// print is redirected to logger when logger is non-nil.
func (f *StateFactory) NewState(logger *slog.Logger) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: f.callStackSize,
		RegistrySize:  f.registrySize,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	if logger != nil {
		L.SetGlobal("print", L.NewFunction(printFn(logger)))
	}
	return L, nil
}

func printFn(logger *slog.Logger) lua.LGFunction {
	return func(L *lua.LState) int {
		parts := make([]string, 0, L.GetTop())
		for i := 1; i <= L.GetTop(); i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		logger.InfoContext(stateContext(L), strings.Join(parts, "\t"))
		return 0
	}
}

// stateContext returns the context of the call currently running in L.
func stateContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
