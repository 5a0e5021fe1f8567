package ecs

import (
	"sync/atomic"

	"go.uber.org/multierr"
)

// World is the top-level ECS container. It owns the entity allocator, the
// resource container (which also holds every component storage), the
// component registry and the deferred command queue flushed by Maintain.
type World struct {
	entities  *Entities
	resources *Resources
	registry  *Registry
	commands  *Commands

	changeTick     atomic.Uint32
	lastChangeTick Tick
}

// NewWorld returns an empty world with its own allocator and resources.
func NewWorld() *World {
	es := NewEntities()
	w := &World{
		entities:  es,
		resources: NewResources(),
		registry:  NewRegistry(),
		commands:  newCommands(es),
	}
	w.changeTick.Store(1)
	w.resources.clock = w.Ticks
	return w
}

func (w *World) Entities() *Entities   { return w.entities }
func (w *World) Resources() *Resources { return w.resources }
func (w *World) Registry() *Registry   { return w.registry }
func (w *World) Commands() *Commands   { return w.commands }

// Ticks is the window direct (unscheduled) access compares against:
// everything stamped since the previous Maintain counts as new.
func (w *World) Ticks() TickRange {
	return TickRange{Last: w.lastChangeTick, This: Tick(w.changeTick.Load())}
}

// ChangeTick returns the current world tick.
func (w *World) ChangeTick() Tick { return Tick(w.changeTick.Load()) }

// IncrementChangeTick advances the world tick and returns the new value.
// The scheduler calls it once per system execution so writes of one system
// are distinguishable from those of the next.
func (w *World) IncrementChangeTick() Tick {
	return Tick(w.changeTick.Add(1))
}

func (w *World) IsAlive(e Entity) bool { return w.entities.IsAlive(e) }

func (w *World) componentCell(k TypeKey) (*cell, error) {
	c := w.resources.lookup(k)
	if c == nil {
		return nil, w.resources.unregistered(k)
	}
	return c, nil
}

// CreateEntity allocates an entity immediately and returns a builder for
// its components. Requires exclusive access to the world.
func (w *World) CreateEntity() *EntityBuilder {
	return &EntityBuilder{w: w, e: w.entities.Allocate()}
}

// CreateEntityDeferred reserves an entity that becomes alive on the next
// Maintain. Safe for concurrent use.
func (w *World) CreateEntityDeferred() Entity {
	return w.entities.AllocateDeferred()
}

// DeleteEntity frees e and removes all of its components. It reports false
// for dead or stale handles. Fails if any component storage is borrowed.
func (w *World) DeleteEntity(e Entity) (bool, error) {
	unlock, err := w.registry.lockAll()
	if err != nil {
		return false, err
	}
	defer unlock()
	if !w.entities.IsAlive(e) {
		return false, nil
	}
	w.registry.RemoveAll(e)
	return w.entities.Free(e), nil
}

// MaintainReport lists the structural changes applied by Maintain.
type MaintainReport struct {
	Created []Entity
	Deleted []Entity
}

// Maintain is the flush point: it commits deferred entity creations and
// deletions, applies queued component commands and advances the world tick.
// It must not run while any guard is live; in that case it fails with
// ErrBorrowConflict and applies nothing. Errors of individual commands are
// combined into the returned error after all other commands were applied.
func (w *World) Maintain() (MaintainReport, error) {
	report, defers, errs, err := w.flush()
	if err != nil {
		return MaintainReport{}, err
	}

	w.lastChangeTick = w.ChangeTick()
	w.changeTick.Add(1)

	for _, fn := range defers {
		fn(w)
	}
	return report, errs
}

// flush applies entity maintenance and queued component commands with every
// storage locked. Deferred world functions are returned to run unlocked.
func (w *World) flush() (report MaintainReport, defers []func(*World), errs error, err error) {
	unlock, err := w.registry.lockAll()
	if err != nil {
		return MaintainReport{}, nil, nil, err
	}
	defer unlock()

	report.Created, report.Deleted = w.entities.Maintain()
	for _, e := range report.Deleted {
		w.registry.RemoveAll(e)
	}

	inserts, removes, defers := w.commands.drain()
	tick := w.ChangeTick()
	for _, cmd := range removes {
		if !w.entities.IsAlive(cmd.entity) {
			continue
		}
		if s, ok := w.registry.byType[cmd.compType]; ok {
			s.removeEntity(cmd.entity)
		}
	}
	for _, cmd := range inserts {
		if !w.entities.IsAlive(cmd.entity) {
			continue
		}
		s, err := w.registry.storeFor(cmd.component)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		errs = multierr.Append(errs, s.insertAny(cmd.entity, cmd.component, tick))
	}
	return report, defers, errs, nil
}

// CheckChangeTicks clamps every stored tick so none is older than
// MaxChangeAge. Hosts call it at least every CheckTickThreshold ticks.
func (w *World) CheckChangeTicks() error {
	unlock, err := w.registry.lockAll()
	if err != nil {
		return err
	}
	defer unlock()
	this := w.ChangeTick()
	for _, s := range w.registry.stores {
		s.checkTicks(this)
	}
	w.resources.CheckChangeTicks(this)
	return nil
}

// EntityBuilder attaches components to a freshly created entity. The first
// failing With poisons the builder; Build then deletes the entity and
// returns the error.
type EntityBuilder struct {
	w   *World
	e   Entity
	err error
}

// With inserts component c, which must be a value (or pointer to a value)
// of a registered component type.
func (b *EntityBuilder) With(c any) *EntityBuilder {
	if b.err != nil {
		return b
	}
	s, err := b.w.registry.storeFor(c)
	if err != nil {
		b.err = err
		return b
	}
	if !s.lock() {
		b.err = s.conflict(true)
		return b
	}
	defer s.unlock()
	b.err = s.insertAny(b.e, c, b.w.ChangeTick())
	return b
}

// Entity returns the entity under construction.
func (b *EntityBuilder) Entity() Entity { return b.e }

// Build returns the entity, or deletes it and returns the first With error.
func (b *EntityBuilder) Build() (Entity, error) {
	if b.err != nil {
		if _, err := b.w.DeleteEntity(b.e); err != nil {
			return NoEntity, multierr.Append(b.err, err)
		}
		return NoEntity, b.err
	}
	return b.e, nil
}
