package system_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
	coresys "github.com/l1jgo/runtime/internal/core/system"
	"github.com/l1jgo/runtime/internal/data"
	"github.com/l1jgo/runtime/internal/scripting"
	"github.com/l1jgo/runtime/internal/system"
)

const arena = 10

func newUniverse(t *testing.T, names ...string) *ecs.Universe {
	t.Helper()
	u := ecs.NewUniverse()
	require.NoError(t, ecs.InsertResource(u.Globals(), component.Arena{HalfExtent: arena}))
	for _, name := range names {
		w := ecs.NewWorld()
		require.NoError(t, component.Register(w))
		require.NoError(t, ecs.InsertResource(w.Resources(), scripting.NewBlackboard()))
		require.NoError(t, u.AddWorld(name, w))
	}
	return u
}

func world(t *testing.T, u *ecs.Universe, name string) *ecs.World {
	t.Helper()
	w, ok := u.World(name)
	require.True(t, ok)
	return w
}

func runOnce(t *testing.T, u *ecs.Universe, w *ecs.World, systems ...coresys.System) {
	t.Helper()
	s := coresys.NewSchedule(
		coresys.WithGlobals(u.Globals()),
		coresys.WithLogger(zaptest.NewLogger(t)),
	)
	for _, sys := range systems {
		require.NoError(t, s.AddSystem(sys))
	}
	require.NoError(t, s.Run(context.Background(), w, time.Second))
}

func body(t *testing.T, w *ecs.World, pos, vel mgl64.Vec3, extra ...any) ecs.Entity {
	t.Helper()
	b := w.CreateEntity().
		With(component.Position{Vec: pos}).
		With(component.Velocity{Vec: vel})
	for _, c := range extra {
		b = b.With(c)
	}
	e, err := b.Build()
	require.NoError(t, err)
	return e
}

func position(t *testing.T, w *ecs.World, e ecs.Entity) mgl64.Vec3 {
	t.Helper()
	rp, err := ecs.ReadComponent[component.Position](w)
	require.NoError(t, err)
	defer rp.Release()
	p, ok := rp.Get(e)
	require.True(t, ok)
	return p.Vec
}

func velocity(t *testing.T, w *ecs.World, e ecs.Entity) mgl64.Vec3 {
	t.Helper()
	rv, err := ecs.ReadComponent[component.Velocity](w)
	require.NoError(t, err)
	defer rv.Release()
	v, ok := rv.Get(e)
	require.True(t, ok)
	return v.Vec
}

func TestMovementSystem(t *testing.T) {
	u := newUniverse(t, "town")
	w := world(t, u, "town")
	var bodies []ecs.Entity
	for i := 0; i < 20; i++ {
		bodies = append(bodies, body(t, w, mgl64.Vec3{float64(i), 0, 0}, mgl64.Vec3{1, 2, 0}))
	}
	still := w.CreateEntity().With(component.Position{Vec: mgl64.Vec3{5, 5, 5}}).Entity()

	runOnce(t, u, w, system.NewMovementSystem(4))

	for i, e := range bodies {
		assert.Equal(t, mgl64.Vec3{float64(i) + 1, 2, 0}, position(t, w, e))
	}
	assert.Equal(t, mgl64.Vec3{5, 5, 5}, position(t, w, still), "bodies without velocity stay put")
}

func TestBoundsSystem(t *testing.T) {
	u := newUniverse(t, "town")
	w := world(t, u, "town")
	out := body(t, w, mgl64.Vec3{12, -15, 3}, mgl64.Vec3{1, -1, 1})
	in := body(t, w, mgl64.Vec3{1, 2, 3}, mgl64.Vec3{1, -1, 1})

	runOnce(t, u, w, system.NewBoundsSystem())

	assert.Equal(t, mgl64.Vec3{10, -10, 3}, position(t, w, out))
	assert.Equal(t, mgl64.Vec3{-1, 1, 1}, velocity(t, w, out))
	assert.Equal(t, mgl64.Vec3{1, 2, 3}, position(t, w, in))
	assert.Equal(t, mgl64.Vec3{1, -1, 1}, velocity(t, w, in))
}

func TestFollowSystem(t *testing.T) {
	u := newUniverse(t, "town")
	w := world(t, u, "town")
	leader := body(t, w, mgl64.Vec3{10, 0, 0}, mgl64.Vec3{})
	follower := body(t, w, mgl64.Vec3{}, mgl64.Vec3{}, component.Follow{Target: leader, Speed: 2})

	runOnce(t, u, w, system.NewFollowSystem())
	assert.InDelta(t, 2.0, velocity(t, w, follower)[0], 1e-9)

	_, err := w.DeleteEntity(leader)
	require.NoError(t, err)
	runOnce(t, u, w, system.NewFollowSystem())

	rf, err := ecs.ReadComponent[component.Follow](w)
	require.NoError(t, err)
	defer rf.Release()
	assert.False(t, rf.Contains(follower), "follow is dropped once the target is gone")
}

func TestEnergySystem(t *testing.T) {
	u := newUniverse(t, "town")
	w := world(t, u, "town")
	dying := body(t, w, mgl64.Vec3{}, mgl64.Vec3{}, component.Energy{Value: 0.5, Max: 5, Drain: 1})
	healthy := body(t, w, mgl64.Vec3{}, mgl64.Vec3{}, component.Energy{Value: 4, Max: 5, Drain: 1})
	immortal := body(t, w, mgl64.Vec3{}, mgl64.Vec3{}, component.Energy{Value: 1})

	runOnce(t, u, w, system.NewEnergySystem(3))

	assert.False(t, w.IsAlive(dying))
	assert.True(t, w.IsAlive(healthy))
	assert.True(t, w.IsAlive(immortal))
	assert.Equal(t, 3, w.Entities().Len(), "the drained body is replaced")

	re, err := ecs.ReadComponent[component.Energy](w)
	require.NoError(t, err)
	defer re.Release()
	h, _ := re.Get(healthy)
	assert.InDelta(t, 3.0, h.Value, 1e-9)
	full := 0
	re.Each(func(_ ecs.Entity, en *component.Energy) {
		if en.Value == 5 {
			full++
		}
	})
	assert.Equal(t, 1, full)
}

func TestStatsSystem(t *testing.T) {
	u := newUniverse(t, "town")
	w := world(t, u, "town")
	body(t, w, mgl64.Vec3{}, mgl64.Vec3{3, 0, 0})
	body(t, w, mgl64.Vec3{}, mgl64.Vec3{0, 4, 0})

	bus := event.NewBus()
	s := coresys.NewSchedule(coresys.WithGlobals(u.Globals()), coresys.WithEvents(bus))
	require.NoError(t, s.AddSystem(system.NewStatsSystem(), coresys.InStage(coresys.StageLast)))
	require.NoError(t, s.AddSystem(coresys.NewFunc("spawner", coresys.Access{}, func(ctx *coresys.Context) error {
		ctx.Commands.Create(component.Position{})
		return nil
	}), coresys.InStage(coresys.StageFirst)))

	ctx := context.Background()
	require.NoError(t, s.Run(ctx, w, time.Second))
	require.NoError(t, s.Run(ctx, w, time.Second))

	ref, err := ecs.ReadResource[scripting.Blackboard](w.Resources())
	require.NoError(t, err)
	defer ref.Release()
	bb := ref.Get()
	assert.Equal(t, 2.0, bb.Number(system.StatBodies), "only moving bodies count")
	assert.Equal(t, 3.5, bb.Number(system.StatMeanSpeed))
	assert.Equal(t, 4.0, bb.Number(system.StatMaxSpeed))
	assert.Equal(t, 1.0, bb.Number(system.StatSpawned), "events of the previous pass")
	assert.Equal(t, 0.0, bb.Number(system.StatDespawned))
}

func TestSpawnBodies(t *testing.T) {
	u := newUniverse(t, "town")
	w := world(t, u, "town")
	n, err := system.SpawnBodies(w, []data.SpawnEntry{
		{World: "town", Count: 3, Origin: [3]float64{1, 1, 1}, Spread: 2, Speed: 1},
		{World: "town", Count: 4, Speed: 2, Tracked: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, 7, w.Entities().Len())

	rf, err := ecs.ReadComponent[component.Follow](w)
	require.NoError(t, err)
	defer rf.Release()
	assert.Equal(t, 3, rf.Len())
	targets := map[ecs.Entity]int{}
	rf.Each(func(_ ecs.Entity, f *component.Follow) { targets[f.Target]++ })
	require.Len(t, targets, 1, "all followers track one leader")
	for leader := range targets {
		assert.True(t, w.IsAlive(leader))
		assert.False(t, rf.Contains(leader))
	}
}

func TestMigrateBodies(t *testing.T) {
	u := newUniverse(t, "town", "field")
	town := world(t, u, "town")
	field := world(t, u, "field")
	var free []ecs.Entity
	for i := 0; i < 3; i++ {
		free = append(free, body(t, town, mgl64.Vec3{float64(i)}, mgl64.Vec3{}))
	}
	body(t, town, mgl64.Vec3{}, mgl64.Vec3{}, component.Follow{Target: free[0]})

	moved, err := system.MigrateBodies(u, "town", "field", 2)
	require.NoError(t, err)
	assert.Len(t, moved, 2)
	assert.Equal(t, 2, town.Entities().Len())
	assert.Equal(t, 2, field.Entities().Len())
	for _, e := range moved {
		assert.True(t, field.IsAlive(e))
	}

	_, err = system.MigrateBodies(u, "nowhere", "field", 1)
	assert.Error(t, err)
}
