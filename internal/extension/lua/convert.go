// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package lua

import (
	"fmt"
	"maps"
	"slices"

	lua "github.com/yuin/gopher-lua"
)

// maxDepth bounds table nesting during conversion so cyclic tables
// terminate.
const maxDepth = 32

// toGo converts a Lua value to plain Go data. Tables with keys 1..n become
// []any; other tables become map[string]any. Functions and userdata become
// nil.
func toGo(v lua.LValue) any {
	return toGoDepth(v, 0)
}

func toGoDepth(v lua.LValue, depth int) any {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if depth >= maxDepth {
			return nil
		}
		if n := v.Len(); n > 0 && countKeys(v) == n {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, toGoDepth(v.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		v.ForEach(func(k, val lua.LValue) {
			out[lua.LVAsString(k)] = toGoDepth(val, depth+1)
		})
		return out
	}
	return nil
}

func countKeys(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// toLua converts Go data to a Lua value. Maps are emitted in key order.
func toLua(L *lua.LState, v any) lua.LValue {
	switch v := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case string:
		return lua.LString(v)
	case []byte:
		return lua.LString(string(v))
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case []any:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(toLua(L, item))
		}
		return t
	case []string:
		t := L.CreateTable(len(v), 0)
		for _, item := range v {
			t.Append(lua.LString(item))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(v))
		for _, k := range slices.Sorted(maps.Keys(v)) {
			t.RawSetString(k, toLua(L, v[k]))
		}
		return t
	}
	return lua.LString(fmt.Sprint(v))
}
