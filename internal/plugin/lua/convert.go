// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ariesd Contributors

package lua

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	lua "github.com/yuin/gopher-lua"
)

// maxConvertDepth bounds table nesting in both directions.
const maxConvertDepth = 32

// toLua converts a decoded JSON-like Go value into a Lua value.
func toLua(L *lua.LState, v any) lua.LValue {
	return toLuaDepth(L, v, 0)
}

func toLuaDepth(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxConvertDepth {
		return lua.LNil
	}
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case string:
		return lua.LString(val)
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return lua.LString(val.String())
		}
		return lua.LNumber(f)
	case []string:
		t := L.CreateTable(len(val), 0)
		for _, s := range val {
			t.Append(lua.LString(s))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for _, item := range val {
			t.Append(toLuaDepth(L, item, depth+1))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(val))
		for k, item := range val {
			t.RawSetString(k, toLuaDepth(L, item, depth+1))
		}
		return t
	case map[string]string:
		t := L.CreateTable(0, len(val))
		for k, s := range val {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

// fromLua converts a Lua value into a JSON-friendly Go value. Integral
// numbers become int64. A table whose keys are exactly 1..n becomes a
// slice; any other table becomes a map keyed by the string form of its
// keys.
func fromLua(v lua.LValue) any {
	return fromLuaDepth(v, 0)
}

func fromLuaDepth(v lua.LValue, depth int) any {
	if depth > maxConvertDepth {
		return nil
	}
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return int64(f)
		}
		return f
	case *lua.LTable:
		return tableToGo(val, depth)
	default:
		return val.String()
	}
}

func tableToGo(t *lua.LTable, depth int) any {
	n := t.MaxN()
	count := 0
	t.ForEach(func(_, _ lua.LValue) { count++ })

	if n > 0 && n == count {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, fromLuaDepth(t.RawGetInt(i), depth+1))
		}
		return out
	}

	out := make(map[string]any, count)
	t.ForEach(func(k, item lua.LValue) {
		out[k.String()] = fromLuaDepth(item, depth+1)
	})
	return out
}

// tableToMap converts a table into a map; a list-shaped table is keyed by
// its 1-based index.
func tableToMap(t *lua.LTable) map[string]any {
	switch v := tableToGo(t, 0).(type) {
	case map[string]any:
		return v
	case []any:
		out := make(map[string]any, len(v))
		for i, item := range v {
			out[fmt.Sprint(i+1)] = item
		}
		return out
	default:
		return map[string]any{}
	}
}

// queryTable converts URL query values into a table of first values.
func queryTable(L *lua.LState, values map[string][]string) *lua.LTable {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := L.CreateTable(0, len(values))
	for _, k := range keys {
		if vs := values[k]; len(vs) > 0 {
			t.RawSetString(k, lua.LString(vs[0]))
		}
	}
	return t
}
