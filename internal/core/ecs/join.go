package ecs

import (
	"runtime"

	"github.com/willf/bitset"
	"golang.org/x/sync/errgroup"
)

// Joins iterate the intersection of every bounding accessor's mask in
// ascending index order. The order is not stable across structural
// changes. Structural changes (Insert, Remove) on a storage that takes part
// in a running join are not allowed; queue them on Commands instead.

// Join1 calls fn for every index the accessor accepts.
func Join1[A any](a Accessor[A], fn func(A)) {
	m := joinMask(a.mask())
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		idx := uint32(i)
		if a.accept(idx) {
			fn(a.fetch(idx))
		}
	}
}

// Join2 calls fn for every entity accepted by both accessors.
func Join2[A, B any](a Accessor[A], b Accessor[B], fn func(A, B)) {
	m := joinMask(a.mask(), b.mask())
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		idx := uint32(i)
		if a.accept(idx) && b.accept(idx) {
			fn(a.fetch(idx), b.fetch(idx))
		}
	}
}

// Join3 calls fn for every entity accepted by all three accessors.
func Join3[A, B, C any](a Accessor[A], b Accessor[B], c Accessor[C], fn func(A, B, C)) {
	m := joinMask(a.mask(), b.mask(), c.mask())
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		idx := uint32(i)
		if a.accept(idx) && b.accept(idx) && c.accept(idx) {
			fn(a.fetch(idx), b.fetch(idx), c.fetch(idx))
		}
	}
}

// Join4 is Join3 with four accessors.
func Join4[A, B, C, D any](a Accessor[A], b Accessor[B], c Accessor[C], d Accessor[D], fn func(A, B, C, D)) {
	m := joinMask(a.mask(), b.mask(), c.mask(), d.mask())
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		idx := uint32(i)
		if a.accept(idx) && b.accept(idx) && c.accept(idx) && d.accept(idx) {
			fn(a.fetch(idx), b.fetch(idx), c.fetch(idx), d.fetch(idx))
		}
	}
}

// Join5 is Join3 with five accessors.
func Join5[A, B, C, D, E any](a Accessor[A], b Accessor[B], c Accessor[C], d Accessor[D], e Accessor[E], fn func(A, B, C, D, E)) {
	m := joinMask(a.mask(), b.mask(), c.mask(), d.mask(), e.mask())
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		idx := uint32(i)
		if a.accept(idx) && b.accept(idx) && c.accept(idx) && d.accept(idx) && e.accept(idx) {
			fn(a.fetch(idx), b.fetch(idx), c.fetch(idx), d.fetch(idx), e.fetch(idx))
		}
	}
}

// Join6 is Join3 with six accessors.
func Join6[A, B, C, D, E, F any](a Accessor[A], b Accessor[B], c Accessor[C], d Accessor[D], e Accessor[E], f Accessor[F], fn func(A, B, C, D, E, F)) {
	m := joinMask(a.mask(), b.mask(), c.mask(), d.mask(), e.mask(), f.mask())
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		idx := uint32(i)
		if a.accept(idx) && b.accept(idx) && c.accept(idx) && d.accept(idx) && e.accept(idx) && f.accept(idx) {
			fn(a.fetch(idx), b.fetch(idx), c.fetch(idx), d.fetch(idx), e.fetch(idx), f.fetch(idx))
		}
	}
}

// Get1 resolves one accessor for ent without building a mask. Stale or
// filtered entities report false.
func Get1[A any](a Accessor[A], ent Entity) (va A, ok bool) {
	if !a.acceptEntity(ent) {
		return
	}
	va = a.fetchEntity(ent)
	return va, true
}

// Get2 resolves two accessors for ent; ok is false unless both accept it.
func Get2[A, B any](a Accessor[A], b Accessor[B], ent Entity) (va A, vb B, ok bool) {
	if !(a.acceptEntity(ent) && b.acceptEntity(ent)) {
		return
	}
	va, vb = a.fetchEntity(ent), b.fetchEntity(ent)
	return va, vb, true
}

// Get3 is Get2 with three accessors.
func Get3[A, B, C any](a Accessor[A], b Accessor[B], c Accessor[C], ent Entity) (va A, vb B, vc C, ok bool) {
	if !(a.acceptEntity(ent) && b.acceptEntity(ent) && c.acceptEntity(ent)) {
		return
	}
	va, vb, vc = a.fetchEntity(ent), b.fetchEntity(ent), c.fetchEntity(ent)
	return va, vb, vc, true
}

// Get4 is Get2 with four accessors.
func Get4[A, B, C, D any](a Accessor[A], b Accessor[B], c Accessor[C], d Accessor[D], ent Entity) (va A, vb B, vc C, vd D, ok bool) {
	if !(a.acceptEntity(ent) && b.acceptEntity(ent) && c.acceptEntity(ent) && d.acceptEntity(ent)) {
		return
	}
	va, vb, vc, vd = a.fetchEntity(ent), b.fetchEntity(ent), c.fetchEntity(ent), d.fetchEntity(ent)
	return va, vb, vc, vd, true
}

// Get5 is Get2 with five accessors.
func Get5[A, B, C, D, E any](a Accessor[A], b Accessor[B], c Accessor[C], d Accessor[D], e Accessor[E], ent Entity) (va A, vb B, vc C, vd D, ve E, ok bool) {
	if !(a.acceptEntity(ent) && b.acceptEntity(ent) && c.acceptEntity(ent) && d.acceptEntity(ent) && e.acceptEntity(ent)) {
		return
	}
	va, vb, vc, vd, ve = a.fetchEntity(ent), b.fetchEntity(ent), c.fetchEntity(ent), d.fetchEntity(ent), e.fetchEntity(ent)
	return va, vb, vc, vd, ve, true
}

// Get6 is Get2 with six accessors.
func Get6[A, B, C, D, E, F any](a Accessor[A], b Accessor[B], c Accessor[C], d Accessor[D], e Accessor[E], f Accessor[F], ent Entity) (va A, vb B, vc C, vd D, ve E, vf F, ok bool) {
	if !(a.acceptEntity(ent) && b.acceptEntity(ent) && c.acceptEntity(ent) && d.acceptEntity(ent) && e.acceptEntity(ent) && f.acceptEntity(ent)) {
		return
	}
	va, vb, vc, vd, ve, vf = a.fetchEntity(ent), b.fetchEntity(ent), c.fetchEntity(ent), d.fetchEntity(ent), e.fetchEntity(ent), f.fetchEntity(ent)
	return va, vb, vc, vd, ve, vf, true
}

// parIndices collects the set bits of m and splits them into chunks for
// at most workers goroutines.
func parIndices(m *bitset.BitSet, workers int) (int, [][]uint32) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	idx := make([]uint32, 0, m.Count())
	for i, ok := m.NextSet(0); ok; i, ok = m.NextSet(i + 1) {
		idx = append(idx, uint32(i))
	}
	size := max(64, (len(idx)+workers*4-1)/(workers*4))
	var chunks [][]uint32
	for len(idx) > 0 {
		n := min(size, len(idx))
		chunks = append(chunks, idx[:n])
		idx = idx[n:]
	}
	return workers, chunks
}

// ParJoin1 is Join1 spread over up to workers goroutines (GOMAXPROCS when
// workers <= 0). Every write accessor must be partitionable. fn runs
// concurrently and must only touch the values it is handed.
func ParJoin1[A any](workers int, a Accessor[A], fn func(A)) error {
	if err := checkPartitioned(a.writes(), a.partitioned()); err != nil {
		return err
	}
	workers, chunks := parIndices(joinMask(a.mask()), workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, chunk := range chunks {
		g.Go(func() error {
			for _, idx := range chunk {
				if a.accept(idx) {
					fn(a.fetch(idx))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ParJoin2 is Join2 spread over workers goroutines, like ParJoin1.
func ParJoin2[A, B any](workers int, a Accessor[A], b Accessor[B], fn func(A, B)) error {
	if err := checkPartitioned(a.writes(), a.partitioned(), b.writes(), b.partitioned()); err != nil {
		return err
	}
	workers, chunks := parIndices(joinMask(a.mask(), b.mask()), workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, chunk := range chunks {
		g.Go(func() error {
			for _, idx := range chunk {
				if a.accept(idx) && b.accept(idx) {
					fn(a.fetch(idx), b.fetch(idx))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ParJoin3 is Join3 spread over workers goroutines, like ParJoin1.
func ParJoin3[A, B, C any](workers int, a Accessor[A], b Accessor[B], c Accessor[C], fn func(A, B, C)) error {
	if err := checkPartitioned(a.writes(), a.partitioned(), b.writes(), b.partitioned(), c.writes(), c.partitioned()); err != nil {
		return err
	}
	workers, chunks := parIndices(joinMask(a.mask(), b.mask(), c.mask()), workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, chunk := range chunks {
		g.Go(func() error {
			for _, idx := range chunk {
				if a.accept(idx) && b.accept(idx) && c.accept(idx) {
					fn(a.fetch(idx), b.fetch(idx), c.fetch(idx))
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// ParJoin4 is Join4 spread over workers goroutines, like ParJoin1.
func ParJoin4[A, B, C, D any](workers int, a Accessor[A], b Accessor[B], c Accessor[C], d Accessor[D], fn func(A, B, C, D)) error {
	if err := checkPartitioned(a.writes(), a.partitioned(), b.writes(), b.partitioned(), c.writes(), c.partitioned(), d.writes(), d.partitioned()); err != nil {
		return err
	}
	workers, chunks := parIndices(joinMask(a.mask(), b.mask(), c.mask(), d.mask()), workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, chunk := range chunks {
		g.Go(func() error {
			for _, idx := range chunk {
				if a.accept(idx) && b.accept(idx) && c.accept(idx) && d.accept(idx) {
					fn(a.fetch(idx), b.fetch(idx), c.fetch(idx), d.fetch(idx))
				}
			}
			return nil
		})
	}
	return g.Wait()
}
