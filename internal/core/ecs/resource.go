package ecs

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
)

// KeyKind separates component storages from plain resources in the
// container, so a type may be both.
type KeyKind uint8

const (
	KindResource KeyKind = iota
	KindComponent
)

// TypeKey identifies one cell of a Resources container.
type TypeKey struct {
	Kind KeyKind
	Type reflect.Type
}

// ResourceKey is the key of the resource of type T.
func ResourceKey[T any]() TypeKey {
	return TypeKey{Kind: KindResource, Type: reflect.TypeFor[T]()}
}

// ComponentKey is the key of the storage of component type T.
func ComponentKey[T any]() TypeKey {
	return TypeKey{Kind: KindComponent, Type: reflect.TypeFor[T]()}
}

func (k TypeKey) String() string {
	if k.Kind == KindComponent {
		return "component " + k.Type.String()
	}
	return "resource " + k.Type.String()
}

// cell holds one value and its borrow state: borrow > 0 counts shared
// guards, -1 marks an exclusive guard.
type cell struct {
	key    TypeKey
	value  any
	ticks  ComponentTicks
	borrow atomic.Int64
}

func (c *cell) acquireShared() bool {
	for {
		b := c.borrow.Load()
		if b < 0 {
			return false
		}
		if c.borrow.CompareAndSwap(b, b+1) {
			return true
		}
	}
}

func (c *cell) acquireExclusive() bool {
	return c.borrow.CompareAndSwap(0, -1)
}

func (c *cell) conflict(exclusive bool) error {
	if exclusive {
		b := c.borrow.Load()
		if b < 0 {
			return eris.Wrapf(ErrBorrowConflict, "%s: exclusive guard outstanding", c.key)
		}
		return eris.Wrapf(ErrBorrowConflict, "%s: %d shared guards outstanding", c.key, b)
	}
	return eris.Wrapf(ErrBorrowConflict, "%s: exclusive guard outstanding", c.key)
}

// borrow is the release half of a guard. Release is idempotent.
type borrow struct {
	c         *cell
	exclusive bool
	released  atomic.Bool
}

func newBorrow(c *cell, exclusive bool) *borrow {
	return &borrow{c: c, exclusive: exclusive}
}

func (b *borrow) release() {
	if b == nil || b.released.Swap(true) {
		return
	}
	if b.exclusive {
		b.c.borrow.Store(0)
	} else {
		b.c.borrow.Add(-1)
	}
}

// Resources is a type-keyed container of singleton values. Every value is
// reached through a guard; shared and exclusive guards on one cell never
// coexist.
type Resources struct {
	mu    sync.RWMutex
	cells map[TypeKey]*cell
	clock func() TickRange
}

func NewResources() *Resources {
	return &Resources{
		cells: make(map[TypeKey]*cell, 32),
	}
}

func (r *Resources) ticks() TickRange {
	if r.clock == nil {
		return TickRange{}
	}
	return r.clock()
}

func (r *Resources) lookup(k TypeKey) *cell {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cells[k]
}

// Has reports whether a cell exists for k.
func (r *Resources) Has(k TypeKey) bool {
	return r.lookup(k) != nil
}

// Keys returns every registered key, sorted for stable output.
func (r *Resources) Keys() []TypeKey {
	r.mu.RLock()
	keys := make([]TypeKey, 0, len(r.cells))
	for k := range r.cells {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// insertCell adds a new cell, or returns the existing one with loaded=true.
func (r *Resources) insertCell(k TypeKey, value func() any, tick Tick) (c *cell, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cells[k]; ok {
		return c, true
	}
	c = &cell{key: k, value: value(), ticks: NewComponentTicks(tick)}
	r.cells[k] = c
	return c, false
}

func (r *Resources) unregistered(k TypeKey) error {
	return eris.Wrapf(ErrUnregisteredType, "%s", k)
}

// CheckChangeTicks clamps the ticks of every resource cell.
func (r *Resources) CheckChangeTicks(this Tick) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.cells {
		if c.key.Kind == KindResource && c.acquireExclusive() {
			c.ticks.clamp(this)
			c.borrow.Store(0)
		}
	}
}

// Ref is a shared guard on a resource.
type Ref[T any] struct {
	value *T
	cell  *cell
	ticks TickRange
	b     *borrow
}

func (g *Ref[T]) Get() *T         { return g.value }
func (g *Ref[T]) IsAdded() bool   { return g.cell.ticks.IsAdded(g.ticks) }
func (g *Ref[T]) IsChanged() bool { return g.cell.ticks.IsChanged(g.ticks) }
func (g *Ref[T]) Release()        { g.b.release() }

// Mut is an exclusive guard on a resource. Every Get marks the resource
// changed.
type Mut[T any] struct {
	value *T
	cell  *cell
	ticks TickRange
	b     *borrow
}

func (g *Mut[T]) Get() *T {
	g.cell.ticks.SetChanged(g.ticks.This)
	return g.value
}

func (g *Mut[T]) IsAdded() bool   { return g.cell.ticks.IsAdded(g.ticks) }
func (g *Mut[T]) IsChanged() bool { return g.cell.ticks.IsChanged(g.ticks) }
func (g *Mut[T]) Release()        { g.b.release() }

// InsertResource stores v, replacing any previous value of the same type.
// Replacing fails while a guard on the resource is live.
func InsertResource[T any](r *Resources, v T) error {
	k := ResourceKey[T]()
	tick := r.ticks().This
	c, loaded := r.insertCell(k, func() any { p := new(T); *p = v; return p }, tick)
	if !loaded {
		return nil
	}
	if !c.acquireExclusive() {
		return c.conflict(true)
	}
	*c.value.(*T) = v
	c.ticks = NewComponentTicks(tick)
	c.borrow.Store(0)
	return nil
}

// RemoveResource takes the resource out of the container.
func RemoveResource[T any](r *Resources) (T, bool, error) {
	var zero T
	k := ResourceKey[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cells[k]
	if !ok {
		return zero, false, nil
	}
	if !c.acquireExclusive() {
		return zero, false, c.conflict(true)
	}
	delete(r.cells, k)
	return *c.value.(*T), true, nil
}

// HasResource reports whether a T resource is inserted.
func HasResource[T any](r *Resources) bool {
	return r.Has(ResourceKey[T]())
}

// ReadResource returns a shared guard stamped with the container's clock.
func ReadResource[T any](r *Resources) (*Ref[T], error) {
	return ReadResourceAt[T](r, r.ticks())
}

// WriteResource returns an exclusive guard stamped with the container's clock.
func WriteResource[T any](r *Resources) (*Mut[T], error) {
	return WriteResourceAt[T](r, r.ticks())
}

// ReadResourceAt is ReadResource for callers that track their own ticks,
// such as scheduled systems.
func ReadResourceAt[T any](r *Resources, tr TickRange) (*Ref[T], error) {
	k := ResourceKey[T]()
	c := r.lookup(k)
	if c == nil {
		return nil, r.unregistered(k)
	}
	return readCell[T](c, tr)
}

// WriteResourceAt is WriteResource for callers that track their own ticks.
func WriteResourceAt[T any](r *Resources, tr TickRange) (*Mut[T], error) {
	k := ResourceKey[T]()
	c := r.lookup(k)
	if c == nil {
		return nil, r.unregistered(k)
	}
	return writeCell[T](c, tr)
}

func readCell[T any](c *cell, tr TickRange) (*Ref[T], error) {
	if !c.acquireShared() {
		return nil, c.conflict(false)
	}
	return &Ref[T]{value: c.value.(*T), cell: c, ticks: tr, b: newBorrow(c, false)}, nil
}

func writeCell[T any](c *cell, tr TickRange) (*Mut[T], error) {
	if !c.acquireExclusive() {
		return nil, c.conflict(true)
	}
	return &Mut[T]{value: c.value.(*T), cell: c, ticks: tr, b: newBorrow(c, true)}, nil
}

// ResourceOrInsert returns a shared guard, creating the resource with
// factory first if it is absent.
func ResourceOrInsert[T any](r *Resources, factory func() T) (*Ref[T], error) {
	tr := r.ticks()
	c, _ := r.insertCell(ResourceKey[T](), func() any { p := new(T); *p = factory(); return p }, tr.This)
	return readCell[T](c, tr)
}

// ResourceOrInsertMut is the exclusive form of ResourceOrInsert.
func ResourceOrInsertMut[T any](r *Resources, factory func() T) (*Mut[T], error) {
	tr := r.ticks()
	c, _ := r.insertCell(ResourceKey[T](), func() any { p := new(T); *p = factory(); return p }, tr.This)
	return writeCell[T](c, tr)
}

// WithResource runs fn under a shared guard released on every exit path.
func WithResource[T any](r *Resources, fn func(*T) error) error {
	g, err := ReadResource[T](r)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(g.Get())
}

// WithResourceMut runs fn under an exclusive guard released on every exit
// path.
func WithResourceMut[T any](r *Resources, fn func(*T) error) error {
	g, err := WriteResource[T](r)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(g.Get())
}

func typeName[T any]() string {
	return fmt.Sprint(reflect.TypeFor[T]())
}
