package lua

import (
	"fmt"
	"sort"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// ToLuaValue converts a Go value for a script. Times become unix seconds,
// the zero time 0; unknown types pass as their fmt form.
func ToLuaValue(L *lua.LState, value interface{}) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return v
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case time.Time:
		if v.IsZero() {
			return lua.LNumber(0)
		}
		return lua.LNumber(v.Unix())
	case []string:
		return listTable(L, v)
	case []interface{}:
		return listTable(L, v)
	case []map[string]interface{}:
		return listTable(L, v)
	case map[string]string:
		return mapTable(L, v)
	case map[string]interface{}:
		return mapTable(L, v)
	default:
		return lua.LString(fmt.Sprint(v))
	}
}

func listTable[T any](L *lua.LState, items []T) *lua.LTable {
	t := L.CreateTable(len(items), 0)
	for _, item := range items {
		t.Append(ToLuaValue(L, item))
	}
	return t
}

func mapTable[T any](L *lua.LState, m map[string]T) *lua.LTable {
	t := L.CreateTable(0, len(m))
	for k, v := range m {
		t.RawSetString(k, ToLuaValue(L, v))
	}
	return t
}

// ToGoValue converts a script value back. Tables with a sequence part
// become slices, others string-keyed maps; numbers are float64.
func ToGoValue(lv lua.LValue) interface{} {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if n := v.MaxN(); n > 0 {
			out := make([]interface{}, n)
			for i := range out {
				out[i] = ToGoValue(v.RawGetInt(i + 1))
			}
			return out
		}

		out := make(map[string]interface{})
		v.ForEach(func(key, value lua.LValue) {
			if k, ok := key.(lua.LString); ok {
				out[string(k)] = ToGoValue(value)
			}
		})
		return out
	default:
		return nil
	}
}

// ToGoMaps reads a script result as a list of records. An empty table is an
// empty list, since Lua cannot tell the two apart.
func ToGoMaps(result interface{}) ([]map[string]interface{}, error) {
	switch v := result.(type) {
	case nil:
		return nil, nil
	case map[string]interface{}:
		if len(v) == 0 {
			return nil, nil
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("expected a list, got a table with keys %v", keys)
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(v))
		for i, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("element %d: expected table, got %T", i+1, item)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list, got %T", result)
	}
}
