package system

import (
	"fmt"
	"math/rand"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/data"
)

const defaultEnergy = 30 // seconds of life at drain 1

// SpawnBodies creates the bodies listed in entries. For tracked entries the
// first body leads and the rest follow it. Returns the number created.
func SpawnBodies(w *ecs.World, entries []data.SpawnEntry) (int, error) {
	count := 0
	for _, s := range entries {
		origin := mgl64.Vec3(s.Origin)
		var leader ecs.Entity
		for i := 0; i < s.Count; i++ {
			offset := randomPoint(s.Spread)
			b := w.CreateEntity().
				With(component.Position{Vec: origin.Add(offset)}).
				With(component.Velocity{Vec: randomDirection().Mul(s.Speed)}).
				With(component.Energy{
					Value: defaultEnergy * (0.5 + rand.Float64()/2),
					Max:   defaultEnergy,
					Drain: 1,
				})
			if s.Tracked && i > 0 {
				b = b.With(component.Follow{Target: leader, Speed: s.Speed})
			}
			e, err := b.Build()
			if err != nil {
				return count, fmt.Errorf("spawn in %s: %w", s.World, err)
			}
			if i == 0 {
				leader = e
			}
			count++
		}
	}
	return count, nil
}
