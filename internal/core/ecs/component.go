package ecs

import (
	"reflect"

	"github.com/rotisserie/eris"
	"github.com/willf/bitset"
)

// MapStorage is a map-backed store for components only a few entities
// carry. Slots are heap-allocated so pointers survive map growth.
type MapStorage[T any] struct {
	data map[uint32]*Slot[T]
	mask *bitset.BitSet
}

func NewMapStorage[T any]() *MapStorage[T] {
	return &MapStorage[T]{
		data: make(map[uint32]*Slot[T], 16),
		mask: bitset.New(0),
	}
}

func (s *MapStorage[T]) Insert(index uint32, slot Slot[T]) (Slot[T], bool) {
	if c, ok := s.data[index]; ok {
		old := *c
		*c = slot
		return old, true
	}
	c := new(Slot[T])
	*c = slot
	s.data[index] = c
	s.mask.Set(uint(index))
	return Slot[T]{}, false
}

func (s *MapStorage[T]) Remove(index uint32) (Slot[T], bool) {
	c, ok := s.data[index]
	if !ok {
		return Slot[T]{}, false
	}
	delete(s.data, index)
	s.mask.Clear(uint(index))
	return *c, true
}

func (s *MapStorage[T]) Slot(index uint32) *Slot[T] {
	return s.data[index]
}

func (s *MapStorage[T]) Mask() *bitset.BitSet { return s.mask }
func (s *MapStorage[T]) Len() int             { return len(s.data) }
func (s *MapStorage[T]) Partitioned()         {}

func (s *MapStorage[T]) Clear() {
	clear(s.data)
	s.mask.ClearAll()
}

// componentStore binds a backend to its container cell and the entity
// allocator used to reject stale writes.
type componentStore[T any] struct {
	name     string
	backend  Storage[T]
	entities *Entities
	cell     *cell
}

func (s *componentStore[T]) get(e Entity) *Slot[T] {
	slot := s.backend.Slot(e.Index())
	if slot == nil || slot.Owner != e {
		return nil
	}
	return slot
}

// live returns the slot at idx if its owner is still alive. A slot left
// behind by a raw Entities.Free is treated as empty.
func (s *componentStore[T]) live(idx uint32) *Slot[T] {
	slot := s.backend.Slot(idx)
	if slot == nil || !s.entities.IsAlive(slot.Owner) {
		return nil
	}
	return slot
}

func (s *componentStore[T]) insert(e Entity, v T, tick Tick) (T, bool, error) {
	var zero T
	if !s.entities.IsAlive(e) {
		return zero, false, eris.Wrapf(ErrStaleEntity, "insert %s into %s", e, s.name)
	}
	if slot := s.get(e); slot != nil {
		old := slot.Value
		slot.Value = v
		slot.Ticks.SetChanged(tick)
		return old, true, nil
	}
	// The index may still hold a component of a previous generation when a
	// deferred delete has not been maintained yet; it is dropped here.
	s.backend.Insert(e.Index(), Slot[T]{Owner: e, Ticks: NewComponentTicks(tick), Value: v})
	return zero, false, nil
}

func (s *componentStore[T]) remove(e Entity) (T, bool) {
	var zero T
	if s.get(e) == nil {
		return zero, false
	}
	old, _ := s.backend.Remove(e.Index())
	return old.Value, true
}

// ReadStorage is a shared guard over one component storage.
type ReadStorage[T any] struct {
	store *componentStore[T]
	ticks TickRange
	b     *borrow
}

// Get returns the component of e. The value must not be modified; use a
// WriteStorage for that.
func (r *ReadStorage[T]) Get(e Entity) (*T, bool) {
	slot := r.store.get(e)
	if slot == nil {
		return nil, false
	}
	return &slot.Value, true
}

func (r *ReadStorage[T]) Contains(e Entity) bool { return r.store.get(e) != nil }
func (r *ReadStorage[T]) Len() int               { return r.store.backend.Len() }
func (r *ReadStorage[T]) Release()               { r.b.release() }

func (r *ReadStorage[T]) IsAdded(e Entity) bool {
	slot := r.store.get(e)
	return slot != nil && slot.Ticks.IsAdded(r.ticks)
}

func (r *ReadStorage[T]) IsChanged(e Entity) bool {
	slot := r.store.get(e)
	return slot != nil && slot.Ticks.IsChanged(r.ticks)
}

// Each visits every component of a live entity in ascending index order.
func (r *ReadStorage[T]) Each(fn func(Entity, *T)) {
	m := r.store.backend.Mask()
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		if slot := r.store.live(uint32(i)); slot != nil {
			fn(slot.Owner, &slot.Value)
		}
	}
}

func (r *ReadStorage[T]) mask() *bitset.BitSet { return r.store.backend.Mask() }
func (r *ReadStorage[T]) accept(idx uint32) bool {
	return r.store.live(idx) != nil
}
func (r *ReadStorage[T]) fetch(idx uint32) *T {
	return &r.store.backend.Slot(idx).Value
}
func (r *ReadStorage[T]) acceptEntity(e Entity) bool { return r.store.get(e) != nil }
func (r *ReadStorage[T]) fetchEntity(e Entity) *T    { return &r.store.get(e).Value }
func (r *ReadStorage[T]) writes() bool               { return false }
func (r *ReadStorage[T]) partitioned() bool          { return true }
func (r *ReadStorage[T]) tickRange() TickRange       { return r.ticks }
func (r *ReadStorage[T]) ticksAt(idx uint32) ComponentTicks {
	return r.store.backend.Slot(idx).Ticks
}

// WriteStorage is an exclusive guard over one component storage. Mutable
// access through it refreshes the changed tick of the touched slot.
type WriteStorage[T any] struct {
	store *componentStore[T]
	ticks TickRange
	b     *borrow
}

// Insert stores v for e and returns the replaced value, if any. Inserting
// for a dead or stale entity fails with ErrStaleEntity.
func (w *WriteStorage[T]) Insert(e Entity, v T) (T, bool, error) {
	return w.store.insert(e, v, w.ticks.This)
}

func (w *WriteStorage[T]) Remove(e Entity) (T, bool) {
	return w.store.remove(e)
}

// Get returns the component of e without marking it changed.
func (w *WriteStorage[T]) Get(e Entity) (*T, bool) {
	slot := w.store.get(e)
	if slot == nil {
		return nil, false
	}
	return &slot.Value, true
}

// GetMut returns the component of e and marks it changed.
func (w *WriteStorage[T]) GetMut(e Entity) (*T, bool) {
	slot := w.store.get(e)
	if slot == nil {
		return nil, false
	}
	slot.Ticks.SetChanged(w.ticks.This)
	return &slot.Value, true
}

func (w *WriteStorage[T]) Contains(e Entity) bool { return w.store.get(e) != nil }
func (w *WriteStorage[T]) Len() int               { return w.store.backend.Len() }
func (w *WriteStorage[T]) Clear()                 { w.store.backend.Clear() }
func (w *WriteStorage[T]) Release()               { w.b.release() }

func (w *WriteStorage[T]) IsAdded(e Entity) bool {
	slot := w.store.get(e)
	return slot != nil && slot.Ticks.IsAdded(w.ticks)
}

func (w *WriteStorage[T]) IsChanged(e Entity) bool {
	slot := w.store.get(e)
	return slot != nil && slot.Ticks.IsChanged(w.ticks)
}

func (w *WriteStorage[T]) mask() *bitset.BitSet { return w.store.backend.Mask() }
func (w *WriteStorage[T]) accept(idx uint32) bool {
	return w.store.live(idx) != nil
}
func (w *WriteStorage[T]) fetch(idx uint32) *T {
	slot := w.store.backend.Slot(idx)
	slot.Ticks.SetChanged(w.ticks.This)
	return &slot.Value
}
func (w *WriteStorage[T]) acceptEntity(e Entity) bool { return w.store.get(e) != nil }
func (w *WriteStorage[T]) fetchEntity(e Entity) *T    { return w.fetch(e.Index()) }
func (w *WriteStorage[T]) writes() bool               { return true }
func (w *WriteStorage[T]) tickRange() TickRange       { return w.ticks }
func (w *WriteStorage[T]) ticksAt(idx uint32) ComponentTicks {
	return w.store.backend.Slot(idx).Ticks
}

func (w *WriteStorage[T]) partitioned() bool {
	_, ok := w.store.backend.(Partitioned)
	return ok
}

// ReadComponent returns a shared guard over the storage of T, compared
// against the world's own tick window.
func ReadComponent[T any](w *World) (*ReadStorage[T], error) {
	return ReadComponentAt[T](w, w.Ticks())
}

// WriteComponent returns an exclusive guard over the storage of T.
func WriteComponent[T any](w *World) (*WriteStorage[T], error) {
	return WriteComponentAt[T](w, w.Ticks())
}

// ReadComponentAt is ReadComponent for callers tracking their own ticks.
func ReadComponentAt[T any](w *World, tr TickRange) (*ReadStorage[T], error) {
	c, err := w.componentCell(ComponentKey[T]())
	if err != nil {
		return nil, err
	}
	if !c.acquireShared() {
		return nil, c.conflict(false)
	}
	return &ReadStorage[T]{store: c.value.(*componentStore[T]), ticks: tr, b: newBorrow(c, false)}, nil
}

// WriteComponentAt is WriteComponent for callers tracking their own ticks.
func WriteComponentAt[T any](w *World, tr TickRange) (*WriteStorage[T], error) {
	c, err := w.componentCell(ComponentKey[T]())
	if err != nil {
		return nil, err
	}
	if !c.acquireExclusive() {
		return nil, c.conflict(true)
	}
	return &WriteStorage[T]{store: c.value.(*componentStore[T]), ticks: tr, b: newBorrow(c, true)}, nil
}

// RegisterComponent creates the storage for T with the given policy. It
// must run before any entity carries a T.
func RegisterComponent[T any](w *World, policy StoragePolicy) error {
	return RegisterComponentStorage[T](w, typeName[T](), newStorage[T](policy))
}

// RegisterNamedComponent is RegisterComponent with an explicit name, used
// by serializers to match storages across processes.
func RegisterNamedComponent[T any](w *World, name string, policy StoragePolicy) error {
	return RegisterComponentStorage[T](w, name, newStorage[T](policy))
}

// RegisterComponentStorage registers a caller-provided backend for T.
func RegisterComponentStorage[T any](w *World, name string, backend Storage[T]) error {
	k := ComponentKey[T]()
	if _, ok := w.registry.byName[name]; ok {
		return eris.Wrapf(ErrDuplicateType, "component name %q", name)
	}
	store := &componentStore[T]{name: name, backend: backend, entities: w.entities}
	c, loaded := w.resources.insertCell(k, func() any { return store }, w.Ticks().This)
	if loaded {
		return eris.Wrapf(ErrDuplicateType, "%s", k)
	}
	store.cell = c
	w.registry.Register(store)
	return nil
}

// The erased view used by the world, commands and serializers.

func (s *componentStore[T]) key() TypeKey                { return s.cell.key }
func (s *componentStore[T]) componentName() string       { return s.name }
func (s *componentStore[T]) componentType() reflect.Type { return s.cell.key.Type }
func (s *componentStore[T]) length() int                 { return s.backend.Len() }
func (s *componentStore[T]) lock() bool                  { return s.cell.acquireExclusive() }
func (s *componentStore[T]) unlock()                     { s.cell.borrow.Store(0) }
func (s *componentStore[T]) rlock() bool                 { return s.cell.acquireShared() }
func (s *componentStore[T]) runlock()                    { s.cell.borrow.Add(-1) }
func (s *componentStore[T]) conflict(x bool) error       { return s.cell.conflict(x) }
func (s *componentStore[T]) contains(e Entity) bool      { return s.get(e) != nil }
func (s *componentStore[T]) newValue() any               { return new(T) }

func (s *componentStore[T]) removeEntity(e Entity) (any, bool) {
	v, ok := s.remove(e)
	if !ok {
		return nil, false
	}
	return v, true
}

func (s *componentStore[T]) insertAny(e Entity, v any, tick Tick) error {
	switch x := v.(type) {
	case T:
		_, _, err := s.insert(e, x, tick)
		return err
	case *T:
		_, _, err := s.insert(e, *x, tick)
		return err
	}
	return eris.Wrapf(ErrUnregisteredType, "%T is not %s", v, s.name)
}

func (s *componentStore[T]) each(fn func(Entity, any)) {
	m := s.backend.Mask()
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		if slot := s.live(uint32(i)); slot != nil {
			fn(slot.Owner, slot.Value)
		}
	}
}

func (s *componentStore[T]) checkTicks(this Tick) {
	m := s.backend.Mask()
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		s.backend.Slot(uint32(i)).Ticks.clamp(this)
	}
}
