package component

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/l1jgo/runtime/internal/core/ecs"
)

// Position is a body's location in world space.
// Pure data, zero methods. All mutations happen in System functions.
type Position struct {
	Vec mgl64.Vec3 `json:"vec"`
}

// Velocity is a body's displacement per second.
type Velocity struct {
	Vec mgl64.Vec3 `json:"vec"`
}

// Follow steers a body toward the position of Target at Speed.
type Follow struct {
	Target ecs.Entity `json:"target"`
	Speed  float64    `json:"speed"`
}

// RemapEntities rewrites Target when a snapshot is restored into a world
// with different handles.
func (f *Follow) RemapEntities(remap func(ecs.Entity) ecs.Entity) {
	f.Target = remap(f.Target)
}

// Energy drains by Drain per second. A body whose energy runs out is
// deleted and a fresh one spawned in its place.
type Energy struct {
	Value float64 `json:"value"`
	Max   float64 `json:"max"`
	Drain float64 `json:"drain"`
}

// Arena is a universe-global resource: the half-extent of the cube every
// body is kept inside.
type Arena struct {
	HalfExtent float64
}
