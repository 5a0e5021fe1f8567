package system

import (
	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	coresys "github.com/l1jgo/runtime/internal/core/system"
)

// MovementSystem integrates velocity into position.
// Update stage. Bodies are split across workers.
type MovementSystem struct {
	workers int
}

func NewMovementSystem(workers int) *MovementSystem {
	return &MovementSystem{workers: workers}
}

func (s *MovementSystem) Name() string { return "movement" }

func (s *MovementSystem) Access() coresys.Access {
	return coresys.Access{}.
		Read(ecs.ComponentKey[component.Velocity]()).
		Write(ecs.ComponentKey[component.Position]())
}

func (s *MovementSystem) Run(ctx *coresys.Context) error {
	wp, err := coresys.Write[component.Position](ctx)
	if err != nil {
		return err
	}
	defer wp.Release()
	rv, err := coresys.Read[component.Velocity](ctx)
	if err != nil {
		return err
	}
	defer rv.Release()

	dt := ctx.Delta.Seconds()
	return ecs.ParJoin2(s.workers, wp, rv, func(p *component.Position, v *component.Velocity) {
		p.Vec = p.Vec.Add(v.Vec.Mul(dt))
	})
}
