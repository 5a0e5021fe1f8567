package system

import (
	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
	coresys "github.com/l1jgo/runtime/internal/core/system"
	"github.com/l1jgo/runtime/internal/scripting"
)

// Blackboard keys written by StatsSystem.
const (
	StatBodies    = "bodies"
	StatMeanSpeed = "mean_speed"
	StatMaxSpeed  = "max_speed"
	StatSpawned   = "spawned"
	StatDespawned = "despawned"
)

// StatsSystem publishes per-world body statistics to the Blackboard so
// scripts can read them. Spawn counters come from the lifecycle events of
// the previous pass. Last stage.
type StatsSystem struct {
	spawned   int
	despawned int
}

func NewStatsSystem() *StatsSystem { return &StatsSystem{} }

func (s *StatsSystem) Name() string { return "stats" }

func (s *StatsSystem) Access() coresys.Access {
	return coresys.Access{}.
		Read(ecs.ComponentKey[component.Position](), ecs.ComponentKey[component.Velocity]()).
		Write(ecs.ResourceKey[scripting.Blackboard]())
}

func (s *StatsSystem) Run(ctx *coresys.Context) error {
	if ctx.Events != nil {
		for _, ev := range event.Read[event.EntitiesCreated](ctx.Events) {
			s.spawned += len(ev.Entities)
		}
		for _, ev := range event.Read[event.EntitiesDeleted](ctx.Events) {
			s.despawned += len(ev.Entities)
		}
	}

	rp, err := coresys.Read[component.Position](ctx)
	if err != nil {
		return err
	}
	defer rp.Release()
	rv, err := coresys.Read[component.Velocity](ctx)
	if err != nil {
		return err
	}
	defer rv.Release()

	var (
		n        int
		sum, top float64
	)
	ecs.Join2(rp, rv, func(_ *component.Position, v *component.Velocity) {
		speed := v.Vec.Len()
		sum += speed
		top = max(top, speed)
		n++
	})

	bb, err := coresys.WriteResource[scripting.Blackboard](ctx)
	if err != nil {
		return err
	}
	defer bb.Release()
	b := bb.Get()
	b.Set(StatBodies, n)
	b.Set(StatMaxSpeed, top)
	if n > 0 {
		b.Set(StatMeanSpeed, sum/float64(n))
	} else {
		b.Set(StatMeanSpeed, 0.0)
	}
	b.Set(StatSpawned, s.spawned)
	b.Set(StatDespawned, s.despawned)
	return nil
}
