package system

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	coresys "github.com/l1jgo/runtime/internal/core/system"
)

// FollowSystem points the velocity of every follower at its target.
// Followers whose target is gone lose their Follow component at the next
// flush. PreUpdate stage.
type FollowSystem struct{}

func NewFollowSystem() *FollowSystem { return &FollowSystem{} }

func (s *FollowSystem) Name() string { return "follow" }

func (s *FollowSystem) Access() coresys.Access {
	return coresys.Access{}.
		Read(ecs.ComponentKey[component.Follow](), ecs.ComponentKey[component.Position]()).
		Write(ecs.ComponentKey[component.Velocity]())
}

func (s *FollowSystem) Run(ctx *coresys.Context) error {
	rf, err := coresys.Read[component.Follow](ctx)
	if err != nil {
		return err
	}
	defer rf.Release()
	rp, err := coresys.Read[component.Position](ctx)
	if err != nil {
		return err
	}
	defer rp.Release()
	wv, err := coresys.Write[component.Velocity](ctx)
	if err != nil {
		return err
	}
	defer wv.Release()

	var lost []ecs.Entity
	ecs.Join4(ctx.World.Entities(), rf, rp, wv,
		func(e ecs.Entity, f *component.Follow, p *component.Position, v *component.Velocity) {
			target, ok := rp.Get(f.Target)
			if !ok {
				lost = append(lost, e)
				return
			}
			d := target.Vec.Sub(p.Vec)
			if d.Len() < 1e-6 {
				v.Vec = mgl64.Vec3{}
				return
			}
			v.Vec = d.Normalize().Mul(f.Speed)
		})
	for _, e := range lost {
		ecs.RemoveComponent[component.Follow](ctx.Commands, e)
	}
	return nil
}
