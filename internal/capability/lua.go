package capability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/loopagent/loopagent/internal/chain"
)

// LuaCapability wraps a Lua script as a registry capability. The script
// must define a global function invoke(args) that receives a table of
// arguments and returns a table of results.
type LuaCapability struct {
	descriptor chain.Descriptor
	scriptPath string
}

func NewLuaCapability(desc chain.Descriptor, scriptPath string) *LuaCapability {
	return &LuaCapability{descriptor: desc, scriptPath: scriptPath}
}

func (l *LuaCapability) Descriptor() chain.Descriptor {
	return l.descriptor
}

// Invoke loads the script, calls invoke(args) and converts the returned
// table to a map. Each call runs in a fresh Lua state.
func (l *LuaCapability) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	lState := lua.NewState()
	defer lState.Close()
	lState.SetContext(ctx)

	// Scripts get a minimal os module: getenv and time only.
	lState.PreloadModule("os", luaOSLoader)

	absPath, err := filepath.Abs(l.scriptPath)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("invoke")
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script must define global function invoke(args)")
	}

	lState.Push(fn)
	lState.Push(goMapToLua(lState, args))
	if err := lState.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("invoke(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("invoke() must return a table, got %s", ret.Type().String())
	}
	out, ok := luaToGo(tbl).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invoke() must return a table with string keys")
	}
	return out, nil
}

// RegisterLua registers a Lua-backed capability.
func RegisterLua(reg *chain.Registry, l *LuaCapability) error {
	return reg.Register(l.Descriptor(), l.Invoke)
}

func goMapToLua(lState *lua.LState, m map[string]any) *lua.LTable {
	tbl := lState.NewTable()
	for k, v := range m {
		lState.SetField(tbl, k, goValueToLua(lState, v))
	}
	return tbl
}

func goValueToLua(lState *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case map[string]any:
		return goMapToLua(lState, val)
	case []any:
		tbl := lState.NewTable()
		for _, item := range val {
			tbl.Append(goValueToLua(lState, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to its Go equivalent. Tables with only
// consecutive integer keys become slices, everything else becomes maps.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		arrLen := val.Len()
		if arrLen > 0 {
			arr := make([]any, 0, arrLen)
			for i := 1; i <= arrLen; i++ {
				arr = append(arr, luaToGo(val.RawGetInt(i)))
			}
			return arr
		}
		m := map[string]any{}
		val.ForEach(func(k, item lua.LValue) {
			m[k.String()] = luaToGo(item)
		})
		return m
	default:
		return val.String()
	}
}

func luaOSLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LString(os.Getenv(ls.CheckString(1))))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
