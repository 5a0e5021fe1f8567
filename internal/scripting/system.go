package scripting

import (
	"fmt"

	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/system"
)

// BlackboardAccess is how a script system touches the Blackboard.
type BlackboardAccess int

const (
	BlackboardNone BlackboardAccess = iota
	BlackboardRead
	BlackboardWrite
)

// ParseBlackboardAccess maps "", "none", "read" or "write".
func ParseBlackboardAccess(s string) (BlackboardAccess, error) {
	switch s {
	case "", "none":
		return BlackboardNone, nil
	case "read":
		return BlackboardRead, nil
	case "write":
		return BlackboardWrite, nil
	}
	return 0, fmt.Errorf("unknown blackboard access %q", s)
}

// ScriptSystem runs one global Lua function per execution.
type ScriptSystem struct {
	name string
	fn   string
	bb   BlackboardAccess
}

func NewScriptSystem(name, fn string, bb BlackboardAccess) *ScriptSystem {
	if fn == "" {
		fn = name
	}
	return &ScriptSystem{name: name, fn: fn, bb: bb}
}

func (s *ScriptSystem) Name() string { return s.name }

func (s *ScriptSystem) Access() system.Access {
	a := system.Access{}.Write(ecs.ResourceKey[*Engine]())
	switch s.bb {
	case BlackboardRead:
		a = a.Read(ecs.ResourceKey[Blackboard]())
	case BlackboardWrite:
		a = a.Write(ecs.ResourceKey[Blackboard]())
	}
	return a
}

// Init checks that the script function exists.
func (s *ScriptSystem) Init(w *ecs.World) error {
	return ecs.WithResource(w.Resources(), func(e **Engine) error {
		if !(*e).HasFunction(s.fn) {
			return fmt.Errorf("script system %s: lua function %q not defined", s.name, s.fn)
		}
		return nil
	})
}

func (s *ScriptSystem) Run(ctx *system.Context) error {
	eng, err := system.WriteResource[*Engine](ctx)
	if err != nil {
		return err
	}
	defer eng.Release()

	cc := CallContext{
		System:   s.name,
		Delta:    ctx.Delta.Seconds(),
		Tick:     ctx.Ticks().This,
		Entities: ctx.World.Entities().Len(),
	}

	switch s.bb {
	case BlackboardRead:
		ref, err := system.ReadResource[Blackboard](ctx)
		if err != nil {
			return err
		}
		defer ref.Release()
		// the script edits a copy, which is dropped
		return (*eng.Get()).Call(s.fn, cc, ref.Get(), false)
	case BlackboardWrite:
		mut, err := system.WriteResource[Blackboard](ctx)
		if err != nil {
			return err
		}
		defer mut.Release()
		return (*eng.Get()).Call(s.fn, cc, mut.Get(), true)
	}
	return (*eng.Get()).Call(s.fn, cc, nil, false)
}
