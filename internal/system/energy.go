package system

import (
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	coresys "github.com/l1jgo/runtime/internal/core/system"
)

// EnergySystem drains body energy. A drained body is deleted and a new one
// with full energy is spawned at a random point of the arena, both through
// deferred commands. Update stage.
type EnergySystem struct {
	speed float64
}

func NewEnergySystem(respawnSpeed float64) *EnergySystem {
	return &EnergySystem{speed: respawnSpeed}
}

func (s *EnergySystem) Name() string { return "energy" }

func (s *EnergySystem) Access() coresys.Access {
	return coresys.Access{}.
		Read(ecs.ResourceKey[component.Arena]()).
		Write(ecs.ComponentKey[component.Energy]())
}

func (s *EnergySystem) Run(ctx *coresys.Context) error {
	arena, err := coresys.ReadGlobal[component.Arena](ctx)
	if err != nil {
		return err
	}
	h := arena.Get().HalfExtent
	arena.Release()

	we, err := coresys.Write[component.Energy](ctx)
	if err != nil {
		return err
	}
	defer we.Release()

	dt := ctx.Delta.Seconds()
	ecs.Join2(ctx.World.Entities(), we, func(e ecs.Entity, en *component.Energy) {
		if en.Drain <= 0 {
			return
		}
		en.Value -= en.Drain * dt
		if en.Value > 0 {
			return
		}
		ctx.Commands.Delete(e)
		ctx.Commands.Create(
			component.Position{Vec: randomPoint(h)},
			component.Velocity{Vec: randomDirection().Mul(s.speed)},
			component.Energy{Value: en.Max, Max: en.Max, Drain: en.Drain},
		)
	})
	return nil
}

// randomPoint returns a point inside the cube of half-extent h.
func randomPoint(h float64) mgl64.Vec3 {
	return mgl64.Vec3{
		(rand.Float64()*2 - 1) * h,
		(rand.Float64()*2 - 1) * h,
		(rand.Float64()*2 - 1) * h,
	}
}

// randomDirection returns a unit vector with a uniformly random heading.
func randomDirection() mgl64.Vec3 {
	for {
		v := randomPoint(1)
		if l := v.Len(); l > 1e-3 && l <= 1 {
			return v.Mul(1 / l)
		}
	}
}
