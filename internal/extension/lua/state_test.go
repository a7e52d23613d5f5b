// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package lua

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestStateFactory_LoadsOnlySafeLibraries(t *testing.T) {
	L, err := NewStateFactory().NewState(nil)
	require.NoError(t, err)
	defer L.Close()

	for _, lib := range []string{"table", "string", "math"} {
		assert.NotEqual(t, lua.LTNil, L.GetGlobal(lib).Type(), "library %q not loaded", lib)
	}
	for _, lib := range []string{"os", "io", "debug", "package"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(lib).Type(), "unsafe library %q loaded", lib)
	}
	for _, fn := range []string{"dofile", "loadfile", "loadstring", "load", "require", "module"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(fn).Type(), "unsafe function %q reachable", fn)
	}
}

func TestStateFactory_CanExecuteLua(t *testing.T) {
	L, err := NewStateFactory().NewState(nil)
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`result = string.upper("hello") .. math.floor(2.7)`))
	assert.Equal(t, "HELLO2", L.GetGlobal("result").String())
}

func TestStateFactory_PrintGoesToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	L, err := NewStateFactory().NewState(logger)
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`print("hello", 42)`))
	assert.Contains(t, buf.String(), `msg="hello\t42"`)
}

func TestConvert(t *testing.T) {
	L, err := NewStateFactory().NewState(nil)
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`
		list = {"a", "b", 3}
		obj = {name = "x", nested = {flag = true}, items = {1, 2}}
		mixed = {1, 2, key = "v"}
	`))
	assert.Equal(t, []any{"a", "b", float64(3)}, toGo(L.GetGlobal("list")))
	assert.Equal(t, map[string]any{
		"name":   "x",
		"nested": map[string]any{"flag": true},
		"items":  []any{float64(1), float64(2)},
	}, toGo(L.GetGlobal("obj")))
	assert.Equal(t, map[string]any{"1": float64(1), "2": float64(2), "key": "v"}, toGo(L.GetGlobal("mixed")))
	assert.Nil(t, toGo(L.GetGlobal("print")))

	back := toLua(L, map[string]any{"n": 1.5, "tags": []string{"x"}, "ok": false})
	L.SetGlobal("back", back)
	require.NoError(t, L.DoString(`summary = back.n .. back.tags[1] .. tostring(back.ok)`))
	assert.Equal(t, "1.5xfalse", L.GetGlobal("summary").String())
}

func TestConvert_CyclicTableTerminates(t *testing.T) {
	L, err := NewStateFactory().NewState(nil)
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`cyc = {}; cyc.self = cyc`))
	assert.NotPanics(t, func() { toGo(L.GetGlobal("cyc")) })
}
