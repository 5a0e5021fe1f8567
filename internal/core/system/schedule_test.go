package system_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
	"github.com/l1jgo/runtime/internal/core/system"
)

type Pos struct{ X float64 }

type Vel struct{ X float64 }

type Counter struct{ N int }

func newWorld(t *testing.T) *ecs.World {
	t.Helper()
	w := ecs.NewWorld()
	require.NoError(t, ecs.RegisterComponent[Pos](w, ecs.Dense))
	require.NoError(t, ecs.RegisterComponent[Vel](w, ecs.Dense))
	require.NoError(t, ecs.InsertResource(w.Resources(), Counter{}))
	return w
}

var (
	posKey     = ecs.ComponentKey[Pos]()
	velKey     = ecs.ComponentKey[Vel]()
	counterKey = ecs.ResourceKey[Counter]()
)

// recorder appends system names in execution order.
type recorder struct {
	mu    sync.Mutex
	names []string
}

func (r *recorder) system(name string, access system.Access) *system.Func {
	return system.NewFunc(name, access, func(*system.Context) error {
		r.mu.Lock()
		r.names = append(r.names, name)
		r.mu.Unlock()
		return nil
	})
}

func TestScheduleOrdering(t *testing.T) {
	w := newWorld(t)
	rec := &recorder{}
	s := system.NewSchedule(system.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, s.AddSystem(rec.system("render", system.Access{}), system.InStage(system.StageLast)))
	require.NoError(t, s.AddSystem(rec.system("move", system.Access{})))
	require.NoError(t, s.AddSystem(rec.system("input", system.Access{}), system.Before("move")))
	require.NoError(t, s.AddSystem(rec.system("ai", system.Access{}), system.After("move")))
	require.NoError(t, s.AddSystem(rec.system("spawn", system.Access{}), system.InStage(system.StageFirst), system.Before("move")))

	require.NoError(t, s.Build(w))
	assert.Equal(t, []string{"input", "move", "ai"}, s.Order(system.StageUpdate))

	require.NoError(t, s.Run(context.Background(), w, time.Millisecond))
	assert.Equal(t, []string{"spawn", "input", "move", "ai", "render"}, rec.names)

	st, ok := s.State("move")
	require.True(t, ok)
	assert.Equal(t, system.StateCompleted, st)
}

func TestScheduleRejectsBadConfiguration(t *testing.T) {
	w := newWorld(t)
	rec := &recorder{}

	s := system.NewSchedule()
	require.NoError(t, s.AddSystem(rec.system("a", system.Access{}), system.Before("b")))
	require.NoError(t, s.AddSystem(rec.system("b", system.Access{}), system.Before("c")))
	require.NoError(t, s.AddSystem(rec.system("c", system.Access{}), system.Before("a")))
	assert.ErrorIs(t, s.Build(w), system.ErrScheduleCycle)
	assert.ErrorIs(t, s.Run(context.Background(), w, 0), system.ErrScheduleCycle)
	assert.Empty(t, rec.names, "nothing runs after a failed build")

	assert.ErrorIs(t, s.AddSystem(rec.system("a", system.Access{})), system.ErrDuplicateSystem)

	s = system.NewSchedule()
	require.NoError(t, s.AddSystem(rec.system("late", system.Access{}), system.InStage(system.StageLast)))
	require.NoError(t, s.AddSystem(rec.system("early", system.Access{}), system.After("late")))
	assert.ErrorIs(t, s.Build(w), system.ErrScheduleCycle)

	s = system.NewSchedule()
	require.NoError(t, s.AddSystem(rec.system("x", system.Access{}), system.After("ghost")))
	assert.ErrorIs(t, s.Build(w), system.ErrUnknownSystem)

	type unregistered struct{}
	s = system.NewSchedule()
	require.NoError(t, s.AddSystem(rec.system("y", system.Access{}.Read(ecs.ComponentKey[unregistered]()))))
	assert.ErrorIs(t, s.Build(w), ecs.ErrUnregisteredType)
}

func TestAccessConflicts(t *testing.T) {
	readPos := system.Access{}.Read(posKey)
	writePos := system.Access{}.Write(posKey)
	writeVel := system.Access{}.Write(velKey)

	assert.False(t, readPos.Conflicts(readPos))
	assert.True(t, readPos.Conflicts(writePos))
	assert.True(t, writePos.Conflicts(readPos))
	assert.True(t, writePos.Conflicts(writePos))
	assert.False(t, writePos.Conflicts(writeVel))
}

func TestConflictingSystemsNeverOverlap(t *testing.T) {
	w := newWorld(t)
	for i := 0; i < 100; i++ {
		_, err := w.CreateEntity().With(Pos{}).With(Vel{X: 1}).Build()
		require.NoError(t, err)
	}

	var running atomic.Int32
	var overlaps atomic.Int32
	writer := func(name string) *system.Func {
		return system.NewFunc(name, system.Access{}.Write(posKey).Read(velKey), func(ctx *system.Context) error {
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			defer running.Add(-1)

			wp, err := system.Write[Pos](ctx)
			if err != nil {
				return err
			}
			defer wp.Release()
			rv, err := system.Read[Vel](ctx)
			if err != nil {
				return err
			}
			defer rv.Release()
			ecs.Join2(wp, rv, func(p *Pos, v *Vel) { p.X += v.X })
			time.Sleep(200 * time.Microsecond)
			return nil
		})
	}

	s := system.NewSchedule(system.WithMode(system.Parallel), system.WithWorkers(4))
	for _, name := range []string{"w1", "w2", "w3"} {
		require.NoError(t, s.AddSystem(writer(name)))
	}
	for pass := 0; pass < 50; pass++ {
		require.NoError(t, s.Run(context.Background(), w, 0))
	}
	assert.Equal(t, int32(0), overlaps.Load())

	rp, err := ecs.ReadComponent[Pos](w)
	require.NoError(t, err)
	defer rp.Release()
	rp.Each(func(_ ecs.Entity, p *Pos) { assert.Equal(t, 150.0, p.X) })
}

func TestIndependentSystemsRunConcurrently(t *testing.T) {
	w := newWorld(t)
	var arrived sync.WaitGroup
	arrived.Add(2)
	meet := func(name string, access system.Access) *system.Func {
		return system.NewFunc(name, access, func(*system.Context) error {
			arrived.Done()
			ch := make(chan struct{})
			go func() { arrived.Wait(); close(ch) }()
			select {
			case <-ch:
				return nil
			case <-time.After(5 * time.Second):
				return errors.New("peer never started")
			}
		})
	}

	s := system.NewSchedule(system.WithMode(system.Parallel), system.WithWorkers(2))
	require.NoError(t, s.AddSystem(meet("pos", system.Access{}.Write(posKey))))
	require.NoError(t, s.AddSystem(meet("vel", system.Access{}.Write(velKey))))
	assert.NoError(t, s.Run(context.Background(), w, 0))
}

func TestFlushBetweenStages(t *testing.T) {
	w := newWorld(t)
	var spawned ecs.Entity
	var sameStage, nextStage bool

	s := system.NewSchedule()
	require.NoError(t, s.AddSystem(system.NewFunc("spawn", system.Access{}, func(ctx *system.Context) error {
		spawned = ctx.Commands.Create(Pos{X: 1})
		return nil
	})))
	require.NoError(t, s.AddSystem(system.NewFunc("peer", system.Access{}.Read(posKey), func(ctx *system.Context) error {
		sameStage = ctx.World.IsAlive(spawned)
		return nil
	}), system.After("spawn")))
	require.NoError(t, s.AddSystem(system.NewFunc("observe", system.Access{}.Read(posKey), func(ctx *system.Context) error {
		rp, err := system.Read[Pos](ctx)
		if err != nil {
			return err
		}
		defer rp.Release()
		_, nextStage = rp.Get(spawned)
		return nil
	}), system.InStage(system.StagePostUpdate)))

	require.NoError(t, s.Run(context.Background(), w, 0))
	assert.False(t, sameStage)
	assert.True(t, nextStage)
}

func TestChangeDetectionAcrossSystems(t *testing.T) {
	w := newWorld(t)
	e, err := w.CreateEntity().With(Pos{}).Build()
	require.NoError(t, err)

	mutate := true
	var seen [][]ecs.Entity
	s := system.NewSchedule()
	require.NoError(t, s.AddSystem(system.NewFunc("writer", system.Access{}.Write(posKey), func(ctx *system.Context) error {
		if !mutate {
			return nil
		}
		wp, err := system.Write[Pos](ctx)
		if err != nil {
			return err
		}
		defer wp.Release()
		p, _ := wp.GetMut(e)
		p.X++
		return nil
	})))
	require.NoError(t, s.AddSystem(system.NewFunc("reader", system.Access{}.Read(posKey), func(ctx *system.Context) error {
		rp, err := system.Read[Pos](ctx)
		if err != nil {
			return err
		}
		defer rp.Release()
		var changed []ecs.Entity
		ecs.Join2(ctx.World.Entities(), ecs.Changed[*Pos](rp), func(e ecs.Entity, _ *Pos) {
			changed = append(changed, e)
		})
		seen = append(seen, changed)
		return nil
	}), system.InStage(system.StagePostUpdate)))

	ctx := context.Background()
	require.NoError(t, s.Run(ctx, w, 0))
	mutate = false
	require.NoError(t, s.Run(ctx, w, 0))
	mutate = true
	require.NoError(t, s.Run(ctx, w, 0))

	assert.Equal(t, [][]ecs.Entity{{e}, nil, {e}}, seen)
}

func TestRunCollectsErrorsAndPanics(t *testing.T) {
	w := newWorld(t)
	boom := errors.New("boom")
	var ran atomic.Int32

	for _, mode := range []system.Mode{system.Sequential, system.Parallel} {
		t.Run(mode.String(), func(t *testing.T) {
			ran.Store(0)
			s := system.NewSchedule(system.WithMode(mode), system.WithLogger(zaptest.NewLogger(t)))
			require.NoError(t, s.AddSystem(system.NewFunc("fails", system.Access{}, func(*system.Context) error { return boom })))
			require.NoError(t, s.AddSystem(system.NewFunc("panics", system.Access{}, func(*system.Context) error { panic("bug") })))
			require.NoError(t, s.AddSystem(system.NewFunc("fine", system.Access{}.Write(counterKey), func(ctx *system.Context) error {
				ran.Add(1)
				c, err := system.WriteResource[Counter](ctx)
				if err != nil {
					return err
				}
				c.Get().N++
				c.Release()
				return nil
			}), system.InStage(system.StageLast)))

			err := s.Run(context.Background(), w, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.ErrorIs(t, err, system.ErrSystemPanic)
			assert.Len(t, multierr.Errors(err), 2)
			assert.Equal(t, int32(1), ran.Load(), "later stages still run")

			st, _ := s.State("panics")
			assert.Equal(t, system.StateCompleted, st)
		})
	}
}

func TestLeakedGuardFailsFlush(t *testing.T) {
	w := newWorld(t)
	s := system.NewSchedule()
	require.NoError(t, s.AddSystem(system.NewFunc("leak", system.Access{}.Read(posKey), func(ctx *system.Context) error {
		_, err := system.Read[Pos](ctx)
		return err
	})))
	assert.ErrorIs(t, s.Run(context.Background(), w, 0), ecs.ErrBorrowConflict)
}

func TestLifecycleEvents(t *testing.T) {
	w := newWorld(t)
	bus := event.NewBus()
	var created []ecs.Entity
	event.Subscribe(bus, func(ev event.EntitiesCreated) { created = append(created, ev.Entities...) })

	var spawned ecs.Entity
	s := system.NewSchedule(system.WithEvents(bus))
	require.NoError(t, s.AddSystem(system.NewFunc("spawn", system.Access{}, func(ctx *system.Context) error {
		if spawned.IsZero() {
			spawned = ctx.Commands.Create(Pos{})
		}
		return nil
	})))

	ctx := context.Background()
	require.NoError(t, s.Run(ctx, w, 0))
	assert.Empty(t, created)
	require.NoError(t, s.Run(ctx, w, 0))
	assert.Equal(t, []ecs.Entity{spawned}, created)
}

func TestRunStage(t *testing.T) {
	w := newWorld(t)
	rec := &recorder{}
	s := system.NewSchedule()
	require.NoError(t, s.AddSystem(rec.system("input", system.Access{}), system.InStage(system.StageFirst)))
	require.NoError(t, s.AddSystem(rec.system("logic", system.Access{})))

	ctx := context.Background()
	require.NoError(t, s.RunStage(ctx, w, system.StageFirst, 0))
	require.NoError(t, s.RunStage(ctx, w, system.StageFirst, 0))
	assert.Equal(t, []string{"input", "input"}, rec.names)
}

func TestParseStageAndMode(t *testing.T) {
	st, err := system.ParseStage("post_update")
	require.NoError(t, err)
	assert.Equal(t, system.StagePostUpdate, st)
	st, err = system.ParseStage("")
	require.NoError(t, err)
	assert.Equal(t, system.StageUpdate, st)
	_, err = system.ParseStage("later")
	assert.Error(t, err)

	m, err := system.ParseMode("parallel")
	require.NoError(t, err)
	assert.Equal(t, system.Parallel, m)
	_, err = system.ParseMode("threads")
	assert.Error(t, err)
}
