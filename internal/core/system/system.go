package system

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
)

// Stage is a coarse ordered set of systems. Deferred commands are flushed
// (World.Maintain) after every stage.
type Stage int

const (
	StageFirst      Stage = iota // 0: swap events, poll inputs
	StagePreUpdate               // 1: react to last pass
	StageUpdate                  // 2: main logic
	StagePostUpdate              // 3: derived state
	StageLast                    // 4: cleanup, bookkeeping

	stageCount
)

var stageNames = [stageCount]string{"first", "pre_update", "update", "post_update", "last"}

func (s Stage) String() string {
	if s < 0 || s >= stageCount {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// ParseStage maps a stage name as written in manifests to a Stage.
func ParseStage(name string) (Stage, error) {
	if name == "" {
		return StageUpdate, nil
	}
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// State is where a system is in its lifecycle. Registered and Initialized
// happen once; Runnable -> Executing -> Completed repeats every pass.
type State int32

const (
	StateRegistered State = iota
	StateInitialized
	StateRunnable
	StateExecuting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateInitialized:
		return "initialized"
	case StateRunnable:
		return "runnable"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Access is the declared footprint of a system. Keys are component or
// resource keys (ecs.ComponentKey, ecs.ResourceKey).
type Access struct {
	Reads  []ecs.TypeKey
	Writes []ecs.TypeKey
}

// Read returns a copy of a with keys added to the read set.
func (a Access) Read(keys ...ecs.TypeKey) Access {
	a.Reads = append(slices.Clip(a.Reads), keys...)
	return a
}

// Write returns a copy of a with keys added to the write set.
func (a Access) Write(keys ...ecs.TypeKey) Access {
	a.Writes = append(slices.Clip(a.Writes), keys...)
	return a
}

// Conflicts reports whether a writes something b reads or writes, or the
// other way round.
func (a Access) Conflicts(b Access) bool {
	for _, w := range a.Writes {
		if slices.Contains(b.Writes, w) || slices.Contains(b.Reads, w) {
			return true
		}
	}
	for _, w := range b.Writes {
		if slices.Contains(a.Reads, w) {
			return true
		}
	}
	return false
}

func (a Access) keys() []ecs.TypeKey {
	return append(slices.Clip(a.Reads), a.Writes...)
}

// System is the interface every scheduled unit of logic implements.
// Run must only touch what Access declares; undeclared access is caught
// at run time by the container's borrow checks.
type System interface {
	Name() string
	Access() Access
	Run(ctx *Context) error
}

// Initializer is implemented by systems that need one-time setup when the
// schedule is built, such as registering resources they own.
type Initializer interface {
	Init(w *ecs.World) error
}

// Func adapts a plain function into a System.
type Func struct {
	name   string
	access Access
	fn     func(*Context) error
}

func NewFunc(name string, access Access, fn func(*Context) error) *Func {
	return &Func{name: name, access: access, fn: fn}
}

func (f *Func) Name() string           { return f.name }
func (f *Func) Access() Access         { return f.access }
func (f *Func) Run(ctx *Context) error { return f.fn(ctx) }

// Context is handed to a system for one execution. Guards obtained through
// it compare change ticks against the system's previous run.
type Context struct {
	Ctx      context.Context
	World    *ecs.World
	Globals  *ecs.Resources
	Commands *ecs.Commands
	Events   *event.Bus
	Log      *zap.Logger
	Delta    time.Duration

	ticks ecs.TickRange
}

// Ticks is the window (last run, this run] of the executing system.
func (c *Context) Ticks() ecs.TickRange { return c.ticks }

// Read returns a shared guard over the storage of T.
func Read[T any](c *Context) (*ecs.ReadStorage[T], error) {
	return ecs.ReadComponentAt[T](c.World, c.ticks)
}

// Write returns an exclusive guard over the storage of T.
func Write[T any](c *Context) (*ecs.WriteStorage[T], error) {
	return ecs.WriteComponentAt[T](c.World, c.ticks)
}

func ReadResource[T any](c *Context) (*ecs.Ref[T], error) {
	return ecs.ReadResourceAt[T](c.World.Resources(), c.ticks)
}

func WriteResource[T any](c *Context) (*ecs.Mut[T], error) {
	return ecs.WriteResourceAt[T](c.World.Resources(), c.ticks)
}

// ReadGlobal reads from the universe globals, which carry no ticks.
func ReadGlobal[T any](c *Context) (*ecs.Ref[T], error) {
	return ecs.ReadResource[T](c.Globals)
}

func WriteGlobal[T any](c *Context) (*ecs.Mut[T], error) {
	return ecs.WriteResource[T](c.Globals)
}
