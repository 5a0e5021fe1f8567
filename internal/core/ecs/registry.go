package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
)

// erasedStore is implemented by every component storage so the world can
// bulk-remove an entity's data, apply queued commands and feed serializers
// without knowing component types.
type erasedStore interface {
	key() TypeKey
	componentName() string
	componentType() reflect.Type
	length() int
	lock() bool
	unlock()
	rlock() bool
	runlock()
	conflict(exclusive bool) error
	contains(e Entity) bool
	newValue() any
	removeEntity(e Entity) (any, bool)
	insertAny(e Entity, v any, tick Tick) error
	each(fn func(Entity, any))
	checkTicks(this Tick)
}

// Registry tracks all component stores of a world in registration order.
type Registry struct {
	stores []erasedStore
	byType map[reflect.Type]erasedStore
	byName map[string]erasedStore
}

func NewRegistry() *Registry {
	return &Registry{
		stores: make([]erasedStore, 0, 16),
		byType: make(map[reflect.Type]erasedStore, 16),
		byName: make(map[string]erasedStore, 16),
	}
}

// Register adds a component store to the registry.
func (r *Registry) Register(store erasedStore) {
	r.stores = append(r.stores, store)
	r.byType[store.componentType()] = store
	r.byName[store.componentName()] = store
}

// RemoveAll clears the given entity from every registered component store.
// Callers hold the exclusive lock of every store.
func (r *Registry) RemoveAll(id Entity) {
	for _, s := range r.stores {
		s.removeEntity(id)
	}
}

// Len returns the number of registered component types.
func (r *Registry) Len() int { return len(r.stores) }

// Names returns component names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.stores))
	for i, s := range r.stores {
		names[i] = s.componentName()
	}
	return names
}

// lockAll takes the exclusive lock of every store, or none of them.
func (r *Registry) lockAll() (unlock func(), err error) {
	for i, s := range r.stores {
		if !s.lock() {
			for _, held := range r.stores[:i] {
				held.unlock()
			}
			return nil, s.conflict(true)
		}
	}
	return func() {
		for _, s := range r.stores {
			s.unlock()
		}
	}, nil
}

func (r *Registry) storeFor(v any) (erasedStore, error) {
	t := reflect.TypeOf(v)
	if s, ok := r.byType[t]; ok {
		return s, nil
	}
	if t != nil && t.Kind() == reflect.Pointer {
		if s, ok := r.byType[t.Elem()]; ok {
			return s, nil
		}
	}
	return nil, eris.Wrapf(ErrUnregisteredType, "component %v", t)
}

// ComponentSet is the type-erased view of one registered storage. It is the
// contract serializers build on: every (entity, value) pair can be
// enumerated and reconstructed.
type ComponentSet struct {
	store erasedStore
	world *World
}

func (c ComponentSet) Name() string       { return c.store.componentName() }
func (c ComponentSet) Type() reflect.Type { return c.store.componentType() }
func (c ComponentSet) Len() int           { return c.store.length() }

// New returns a pointer to a zero value of the component type, for decoders.
func (c ComponentSet) New() any { return c.store.newValue() }

// Each visits every (entity, value) pair under a shared lock.
func (c ComponentSet) Each(fn func(Entity, any)) error {
	if !c.store.rlock() {
		return c.store.conflict(false)
	}
	defer c.store.runlock()
	c.store.each(fn)
	return nil
}

// Restore inserts v (a value or pointer of the component type) for e.
func (c ComponentSet) Restore(e Entity, v any) error {
	if !c.store.lock() {
		return c.store.conflict(true)
	}
	defer c.store.unlock()
	return c.store.insertAny(e, v, c.world.Ticks().This)
}

// ComponentSets returns one set per registered component in registration
// order.
func (w *World) ComponentSets() []ComponentSet {
	sets := make([]ComponentSet, len(w.registry.stores))
	for i, s := range w.registry.stores {
		sets[i] = ComponentSet{store: s, world: w}
	}
	return sets
}

// ComponentSet looks a set up by its registered name.
func (w *World) ComponentSet(name string) (ComponentSet, bool) {
	s, ok := w.registry.byName[name]
	if !ok {
		return ComponentSet{}, false
	}
	return ComponentSet{store: s, world: w}, true
}
