package script

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/aarzilli/golua/lua"
)

// maxJSONDepth bounds conversion recursion on both sides, which also
// catches tables that reference themselves.
const maxJSONDepth = 128

// preloadJSONLocked installs a json module with encode and decode,
// backed by the host. Scripts reach it with require("json").
func (e *Engine) preloadJSONLocked() {
	L := e.state
	L.NewTable()

	L.PushString("encode")
	L.PushGoFunction(e.protect("json.encode", func(L *lua.State) int {
		if L.GetTop() < 1 {
			L.RaiseError("json.encode expects a value")
			return 0
		}
		v, err := luaToGo(L, 1, 0)
		if err != nil {
			L.RaiseError(fmt.Sprintf("json.encode: %v", err))
			return 0
		}
		data, err := json.Marshal(v)
		if err != nil {
			L.RaiseError(fmt.Sprintf("json.encode: %v", err))
			return 0
		}
		L.PushString(string(data))
		return 1
	}))
	L.SetTable(-3)

	L.PushString("decode")
	L.PushGoFunction(e.protect("json.decode", func(L *lua.State) int {
		if !L.IsString(1) {
			L.RaiseError("json.decode expects a string")
			return 0
		}
		var v interface{}
		if err := json.Unmarshal([]byte(L.ToString(1)), &v); err != nil {
			L.RaiseError(fmt.Sprintf("json.decode: %v", err))
			return 0
		}
		if err := pushGoValue(L, v, 0); err != nil {
			L.RaiseError(fmt.Sprintf("json.decode: %v", err))
			return 0
		}
		return 1
	}))
	L.SetTable(-3)

	L.GetField(lua.LUA_GLOBALSINDEX, "package")
	L.GetField(-1, "loaded")
	L.PushValue(-3)
	L.SetField(-2, "json")
	L.Pop(3)
}

// luaToGo converts the stack value at index i into a Go value fit for
// encoding/json. Tables whose keys are exactly 1..n become arrays,
// every other table becomes an object with string keys.
func luaToGo(L *lua.State, i int, depth int) (interface{}, error) {
	if depth > maxJSONDepth {
		return nil, fmt.Errorf("value nested too deeply, possibly circular")
	}
	switch L.Type(i) {
	case lua.LUA_TNIL:
		return nil, nil
	case lua.LUA_TBOOLEAN:
		return L.ToBoolean(i), nil
	case lua.LUA_TNUMBER:
		return L.ToNumber(i), nil
	case lua.LUA_TSTRING:
		return L.ToString(i), nil
	case lua.LUA_TTABLE:
		return luaTableToGo(L, i, depth)
	case lua.LUA_TFUNCTION:
		return nil, fmt.Errorf("cannot encode a function")
	default:
		return nil, fmt.Errorf("cannot encode values of that type")
	}
}

type tableEntry struct {
	strKey string
	numKey int
	isNum  bool
	val    interface{}
}

func luaTableToGo(L *lua.State, i int, depth int) (interface{}, error) {
	if !L.CheckStack(4) {
		return nil, fmt.Errorf("value nested too deeply")
	}
	if i < 0 {
		i = L.GetTop() + i + 1
	}

	var entries []tableEntry
	allNum := true
	maxKey := 0

	L.PushNil()
	for L.Next(i) != 0 {
		val, err := luaToGo(L, -1, depth+1)
		if err != nil {
			L.Pop(2)
			return nil, err
		}

		entry := tableEntry{val: val}
		switch L.Type(-2) {
		case lua.LUA_TNUMBER:
			n := L.ToNumber(-2)
			if n == math.Trunc(n) && n >= 1 && n <= 1<<31 {
				entry.isNum = true
				entry.numKey = int(n)
				if entry.numKey > maxKey {
					maxKey = entry.numKey
				}
			} else {
				allNum = false
				entry.strKey = strconv.FormatFloat(n, 'g', -1, 64)
			}
		case lua.LUA_TSTRING:
			allNum = false
			entry.strKey = L.ToString(-2)
		default:
			L.Pop(2)
			return nil, fmt.Errorf("table keys must be strings or numbers")
		}
		entries = append(entries, entry)
		L.Pop(1)
	}

	// Contiguous 1..n integer keys serialize as an array, in order.
	if allNum && maxKey == len(entries) {
		arr := make([]interface{}, maxKey)
		for _, entry := range entries {
			arr[entry.numKey-1] = entry.val
		}
		return arr, nil
	}

	obj := make(map[string]interface{}, len(entries))
	for _, entry := range entries {
		key := entry.strKey
		if entry.isNum {
			key = strconv.Itoa(entry.numKey)
		}
		obj[key] = entry.val
	}
	return obj, nil
}

// pushGoValue pushes a decoded JSON value onto the Lua stack. Arrays
// become 1-based tables, objects become tables with string keys.
func pushGoValue(L *lua.State, v interface{}, depth int) error {
	if depth > maxJSONDepth {
		return fmt.Errorf("value nested too deeply")
	}
	if !L.CheckStack(4) {
		return fmt.Errorf("value nested too deeply")
	}

	switch x := v.(type) {
	case nil:
		L.PushNil()
	case bool:
		L.PushBoolean(x)
	case float64:
		L.PushNumber(x)
	case string:
		L.PushString(x)
	case []interface{}:
		L.NewTable()
		for i, elem := range x {
			L.PushInteger(int64(i + 1))
			if err := pushGoValue(L, elem, depth+1); err != nil {
				L.Pop(2)
				return err
			}
			L.SetTable(-3)
		}
	case map[string]interface{}:
		L.NewTable()
		for key, elem := range x {
			L.PushString(key)
			if err := pushGoValue(L, elem, depth+1); err != nil {
				L.Pop(2)
				return err
			}
			L.SetTable(-3)
		}
	default:
		return fmt.Errorf("unsupported value of type %T", v)
	}
	return nil
}
