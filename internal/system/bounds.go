package system

import (
	"math"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	coresys "github.com/l1jgo/runtime/internal/core/system"
)

// BoundsSystem keeps bodies inside the global Arena, reflecting the
// velocity of any body that crossed a face. PostUpdate stage.
type BoundsSystem struct{}

func NewBoundsSystem() *BoundsSystem { return &BoundsSystem{} }

func (s *BoundsSystem) Name() string { return "bounds" }

func (s *BoundsSystem) Access() coresys.Access {
	return coresys.Access{}.
		Read(ecs.ResourceKey[component.Arena]()).
		Write(ecs.ComponentKey[component.Position](), ecs.ComponentKey[component.Velocity]())
}

func (s *BoundsSystem) Run(ctx *coresys.Context) error {
	arena, err := coresys.ReadGlobal[component.Arena](ctx)
	if err != nil {
		return err
	}
	h := arena.Get().HalfExtent
	arena.Release()

	wp, err := coresys.Write[component.Position](ctx)
	if err != nil {
		return err
	}
	defer wp.Release()
	wv, err := coresys.Write[component.Velocity](ctx)
	if err != nil {
		return err
	}
	defer wv.Release()

	ecs.Join2(wp, wv, func(p *component.Position, v *component.Velocity) {
		for i := 0; i < 3; i++ {
			switch {
			case p.Vec[i] > h:
				p.Vec[i] = h
				v.Vec[i] = -math.Abs(v.Vec[i])
			case p.Vec[i] < -h:
				p.Vec[i] = -h
				v.Vec[i] = math.Abs(v.Vec[i])
			}
		}
	})
	return nil
}
