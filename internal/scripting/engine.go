package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/runtime/internal/core/ecs"
)

// Engine wraps a single gopher-lua VM. Single-goroutine access only: script
// systems reach it through an exclusive resource guard, so the scheduler
// never runs two of them at once.
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory. A missing directory yields an empty engine.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	vm.SetGlobal("log", vm.NewFunction(e.luaLog))

	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk of Lua in the engine's global state.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// HasFunction reports whether name is a global Lua function.
func (e *Engine) HasFunction(name string) bool {
	return e.vm.GetGlobal(name).Type() == lua.LTFunction
}

// luaLog is exposed to scripts as log(msg).
func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("lua", zap.String("msg", L.CheckString(1)))
	return 0
}

// CallContext is the per-execution data handed to a script function as
// the fields of its single table argument.
type CallContext struct {
	System   string
	Delta    float64 // seconds
	Tick     ecs.Tick
	Entities int
}

// Call invokes the global function fn with a context table. The table's
// "bb" field holds a copy of bb (nil leaves it out). When write is set the
// script's edits to that copy are stored back into bb. A string returned by
// the script is reported as an error.
func (e *Engine) Call(fn string, cc CallContext, bb *Blackboard, write bool) error {
	f := e.vm.GetGlobal(fn)
	if f.Type() != lua.LTFunction {
		return fmt.Errorf("lua function %q not found", fn)
	}

	t := e.vm.NewTable()
	t.RawSetString("system", lua.LString(cc.System))
	t.RawSetString("dt", lua.LNumber(cc.Delta))
	t.RawSetString("tick", lua.LNumber(cc.Tick))
	t.RawSetString("entities", lua.LNumber(cc.Entities))
	var bbt *lua.LTable
	if bb != nil {
		bbt = bb.toTable(e.vm)
		t.RawSetString("bb", bbt)
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      f,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		return fmt.Errorf("lua call %s: %w", fn, err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	if s, ok := result.(lua.LString); ok {
		return fmt.Errorf("lua %s: %s", fn, string(s))
	}

	if write && bbt != nil {
		bb.fromTable(bbt, e.log)
	}
	return nil
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}

// Install inserts e and an empty Blackboard into w's resources. An
// existing Blackboard is kept.
func Install(w *ecs.World, e *Engine) error {
	if err := ecs.InsertResource(w.Resources(), e); err != nil {
		return fmt.Errorf("install engine: %w", err)
	}
	if !ecs.HasResource[Blackboard](w.Resources()) {
		if err := ecs.InsertResource(w.Resources(), NewBlackboard()); err != nil {
			return fmt.Errorf("install blackboard: %w", err)
		}
	}
	return nil
}
