package ecs

import (
	"github.com/rotisserie/eris"
	"github.com/willf/bitset"
)

// Accessor is one element of a join, yielding a V per matched entity.
// ReadStorage, WriteStorage and Entities are accessors; Maybe, Without,
// Added and Changed wrap them.
//
// accept must be true before fetch is called for the same index;
// fetching through a write accessor marks the slot changed, so joins check
// every accessor before fetching any.
type Accessor[V any] interface {
	// mask returns the presence set, or nil if the accessor never bounds
	// a join.
	mask() *bitset.BitSet
	accept(idx uint32) bool
	fetch(idx uint32) V
	acceptEntity(e Entity) bool
	fetchEntity(e Entity) V
	writes() bool
	partitioned() bool
}

// Tracked accessors expose per-slot ticks, which Added and Changed filter on.
type Tracked[V any] interface {
	Accessor[V]
	tickRange() TickRange
	ticksAt(idx uint32) ComponentTicks
}

type maybe[V any] struct{ inner Accessor[V] }

// Maybe makes an accessor optional: it never filters the join and yields
// the zero V (nil for storages) where the inner accessor has nothing.
func Maybe[V any](a Accessor[V]) Accessor[V] { return maybe[V]{inner: a} }

func (m maybe[V]) mask() *bitset.BitSet     { return nil }
func (m maybe[V]) accept(uint32) bool       { return true }
func (m maybe[V]) acceptEntity(Entity) bool { return true }
func (m maybe[V]) writes() bool             { return m.inner.writes() }
func (m maybe[V]) partitioned() bool        { return m.inner.partitioned() }

func (m maybe[V]) fetch(idx uint32) V {
	if m.inner.accept(idx) {
		return m.inner.fetch(idx)
	}
	var zero V
	return zero
}

func (m maybe[V]) fetchEntity(e Entity) V {
	if m.inner.acceptEntity(e) {
		return m.inner.fetchEntity(e)
	}
	var zero V
	return zero
}

type without[V any] struct{ inner Accessor[V] }

// Without excludes entities the inner accessor matches. It yields nothing
// useful and never fetches from the inner accessor.
func Without[V any](a Accessor[V]) Accessor[struct{}] { return without[V]{inner: a} }

func (n without[V]) mask() *bitset.BitSet        { return nil }
func (n without[V]) accept(idx uint32) bool      { return !n.inner.accept(idx) }
func (n without[V]) fetch(uint32) struct{}       { return struct{}{} }
func (n without[V]) acceptEntity(e Entity) bool  { return !n.inner.acceptEntity(e) }
func (n without[V]) fetchEntity(Entity) struct{} { return struct{}{} }
func (n without[V]) writes() bool                { return false }
func (n without[V]) partitioned() bool           { return true }

type tickFilter[V any] struct {
	inner Tracked[V]
	added bool
}

// Added keeps only slots inserted since the accessor's last tick.
func Added[V any](t Tracked[V]) Accessor[V] { return tickFilter[V]{inner: t, added: true} }

// Changed keeps only slots inserted or mutated since the accessor's last
// tick.
func Changed[V any](t Tracked[V]) Accessor[V] { return tickFilter[V]{inner: t} }

func (f tickFilter[V]) mask() *bitset.BitSet   { return f.inner.mask() }
func (f tickFilter[V]) fetch(idx uint32) V     { return f.inner.fetch(idx) }
func (f tickFilter[V]) fetchEntity(e Entity) V { return f.inner.fetchEntity(e) }
func (f tickFilter[V]) writes() bool           { return f.inner.writes() }
func (f tickFilter[V]) partitioned() bool      { return f.inner.partitioned() }

func (f tickFilter[V]) match(idx uint32) bool {
	t := f.inner.ticksAt(idx)
	if f.added {
		return t.IsAdded(f.inner.tickRange())
	}
	return t.IsChanged(f.inner.tickRange())
}

func (f tickFilter[V]) accept(idx uint32) bool {
	return f.inner.accept(idx) && f.match(idx)
}

func (f tickFilter[V]) acceptEntity(e Entity) bool {
	return f.inner.acceptEntity(e) && f.match(e.Index())
}

// joinMask intersects every non-nil mask, starting from the sparsest.
// It panics with ErrUnboundedJoin when all masks are nil.
func joinMask(masks ...*bitset.BitSet) *bitset.BitSet {
	var smallest *bitset.BitSet
	var smallestCount uint
	for _, m := range masks {
		if m == nil {
			continue
		}
		if c := m.Count(); smallest == nil || c < smallestCount {
			smallest, smallestCount = m, c
		}
	}
	if smallest == nil {
		panic(eris.Wrap(ErrUnboundedJoin, "add a storage or the entities accessor"))
	}
	out := smallest.Clone()
	for _, m := range masks {
		if m != nil && m != smallest {
			out.InPlaceIntersection(m)
		}
	}
	return out
}

func checkPartitioned(pairs ...bool) error {
	for i := 0; i < len(pairs); i += 2 {
		if pairs[i] && !pairs[i+1] {
			return eris.Wrapf(ErrNotPartitionable, "accessor %d", i/2)
		}
	}
	return nil
}
