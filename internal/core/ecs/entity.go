package ecs

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/willf/bitset"
)

// Entity encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on free to invalidate stale refs.
// Generations start at 1, so the zero Entity never refers to a live slot.
type Entity uint64

// NoEntity is the zero handle. It is never alive.
const NoEntity Entity = 0

// NewEntity packs index and generation into a handle.
func NewEntity(index uint32, generation uint32) Entity {
	return Entity(uint64(generation)<<32 | uint64(index))
}

// Index is the slot of e in the allocator and in every storage.
func (e Entity) Index() uint32 { return uint32(e) }

// Generation distinguishes reuses of the same index.
func (e Entity) Generation() uint32 { return uint32(e >> 32) }

// IsZero reports whether e is NoEntity.
func (e Entity) IsZero() bool { return e == NoEntity }

// String formats e as index"v"generation, e.g. 3v2.
func (e Entity) String() string {
	return fmt.Sprintf("%dv%d", e.Index(), e.Generation())
}

// Entities manages entity allocation with generational indices and a
// recycle cache.
//
// Allocate, Free and Maintain need exclusive access to the world.
// AllocateDeferred and FreeDeferred are safe for concurrent use by systems;
// the handles they touch take effect on the next Maintain.
type Entities struct {
	generations []uint32
	alive       *bitset.BitSet
	count       int

	// cache holds freed indices. AllocateDeferred pops by decrementing
	// cacheLen; cache[cacheLen:] are indices raised since the last Maintain.
	cache    []uint32
	cacheLen atomic.Int64

	// next is the next never-used index. [committed, next) were raised
	// since the last Maintain.
	next      atomic.Uint32
	committed uint32
	// direct marks fresh indices handed out by Allocate since the last
	// Maintain, so Maintain does not resurrect them if they were freed.
	direct *bitset.BitSet

	killMu sync.Mutex
	killed []Entity
}

// NewEntities returns an empty allocator.
func NewEntities() *Entities {
	return &Entities{
		generations: make([]uint32, 0, 1024),
		alive:       bitset.New(1024),
		cache:       make([]uint32, 0, 256),
		direct:      bitset.New(0),
	}
}

// reserve takes a recycled index if one is cached, else a fresh one.
func (es *Entities) reserve() uint32 {
	for {
		n := es.cacheLen.Load()
		if n <= 0 {
			break
		}
		if es.cacheLen.CompareAndSwap(n, n-1) {
			return es.cache[n-1]
		}
	}
	return es.next.Add(1) - 1
}

func (es *Entities) generationOf(idx uint32) uint32 {
	if int(idx) < len(es.generations) {
		return es.generations[idx]
	}
	return 1
}

// commit marks idx alive. It is idempotent.
func (es *Entities) commit(idx uint32) Entity {
	for int(idx) >= len(es.generations) {
		es.generations = append(es.generations, 1)
	}
	if !es.alive.Test(uint(idx)) {
		es.alive.Set(uint(idx))
		es.count++
	}
	return NewEntity(idx, es.generations[idx])
}

// Allocate returns a new or recycled entity that is alive immediately.
func (es *Entities) Allocate() Entity {
	if n := int(es.cacheLen.Load()); n > 0 {
		idx := es.cache[n-1]
		es.cache = append(es.cache[:n-1], es.cache[n:]...)
		es.cacheLen.Store(int64(n - 1))
		return es.commit(idx)
	}
	idx := es.next.Add(1) - 1
	if idx == es.committed {
		es.committed = idx + 1
	} else {
		es.direct.Set(uint(idx))
	}
	return es.commit(idx)
}

// AllocateDeferred reserves an entity handle without touching the alive
// set. The handle is valid for queued commands at once and becomes alive on
// the next Maintain.
func (es *Entities) AllocateDeferred() Entity {
	idx := es.reserve()
	return NewEntity(idx, es.generationOf(idx))
}

// IsAlive reports whether e is live and its generation is current.
func (es *Entities) IsAlive(e Entity) bool {
	idx := e.Index()
	if int(idx) >= len(es.generations) {
		return false
	}
	return es.generations[idx] == e.Generation() && es.alive.Test(uint(idx))
}

// Free kills e and makes its index available for reuse. It reports false
// when e was already dead or stale. Storages are not touched: e's
// components stop being visible and are overwritten when the index is
// reused. World.DeleteEntity also removes them.
func (es *Entities) Free(e Entity) bool {
	if !es.IsAlive(e) {
		return false
	}
	idx := e.Index()
	es.generations[idx]++
	if es.generations[idx] == 0 {
		es.generations[idx] = 1
	}
	es.alive.Clear(uint(idx))
	es.count--

	// Keep the raised region contiguous at the tail of the cache.
	n := int(es.cacheLen.Load())
	es.cache = append(es.cache, 0)
	copy(es.cache[n+1:], es.cache[n:])
	es.cache[n] = idx
	es.cacheLen.Store(int64(n + 1))
	return true
}

// FreeDeferred queues e to be freed on the next Maintain.
func (es *Entities) FreeDeferred(e Entity) {
	es.killMu.Lock()
	es.killed = append(es.killed, e)
	es.killMu.Unlock()
}

// Maintain commits deferred allocations, then applies deferred frees.
func (es *Entities) Maintain() (created, deleted []Entity) {
	n := int(es.cacheLen.Load())
	for _, idx := range es.cache[n:] {
		if !es.alive.Test(uint(idx)) {
			created = append(created, es.commit(idx))
		}
	}
	es.cache = es.cache[:n]

	next := es.next.Load()
	for idx := es.committed; idx < next; idx++ {
		if !es.direct.Test(uint(idx)) {
			created = append(created, es.commit(idx))
		}
	}
	es.committed = next
	es.direct.ClearAll()

	es.killMu.Lock()
	killed := es.killed
	es.killed = nil
	es.killMu.Unlock()
	for _, e := range killed {
		if es.Free(e) {
			deleted = append(deleted, e)
		}
	}
	return created, deleted
}

// Len returns the number of live entities.
func (es *Entities) Len() int { return es.count }

// Each calls fn for every live entity in ascending index order.
func (es *Entities) Each(fn func(Entity)) {
	for i, ok := es.alive.NextSet(0); ok; i, ok = es.alive.NextSet(i + 1) {
		fn(NewEntity(uint32(i), es.generations[i]))
	}
}

// Entities is itself a join accessor yielding the entity handle.

func (es *Entities) mask() *bitset.BitSet        { return es.alive }
func (es *Entities) accept(idx uint32) bool      { return es.alive.Test(uint(idx)) }
func (es *Entities) fetch(idx uint32) Entity     { return NewEntity(idx, es.generations[idx]) }
func (es *Entities) acceptEntity(e Entity) bool  { return es.IsAlive(e) }
func (es *Entities) fetchEntity(e Entity) Entity { return e }
func (es *Entities) writes() bool                { return false }
func (es *Entities) partitioned() bool           { return true }
