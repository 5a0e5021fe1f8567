package ecs

import "github.com/willf/bitset"

// StoragePolicy selects the backend RegisterComponent creates for a type.
type StoragePolicy uint8

const (
	// Dense keeps one slot per entity index. Best for components most
	// entities carry.
	Dense StoragePolicy = iota
	// Sparse keeps an index->position table over a packed slot array.
	Sparse
	// Map keeps slots in a hash map. For components only a handful of
	// entities ever carry.
	Map
)

func (p StoragePolicy) String() string {
	switch p {
	case Dense:
		return "dense"
	case Sparse:
		return "sparse"
	case Map:
		return "map"
	}
	return "unknown"
}

// Slot is one stored component with its owner and change ticks.
type Slot[T any] struct {
	Owner Entity
	Ticks ComponentTicks
	Value T
}

// Storage is the backend of one component type, indexed by Entity.Index.
// Mask must always equal the set of occupied indices. Pointers returned by
// Slot stay valid until the next Insert or Remove.
type Storage[T any] interface {
	Insert(index uint32, s Slot[T]) (old Slot[T], replaced bool)
	Remove(index uint32) (Slot[T], bool)
	Slot(index uint32) *Slot[T]
	Mask() *bitset.BitSet
	Len() int
	Clear()
}

// Partitioned is implemented by backends whose slots for distinct indices
// never alias, so parallel joins may write disjoint index ranges from
// different goroutines.
type Partitioned interface {
	Partitioned()
}

func newStorage[T any](p StoragePolicy) Storage[T] {
	switch p {
	case Sparse:
		return NewSparseStorage[T]()
	case Map:
		return NewMapStorage[T]()
	default:
		return NewDenseStorage[T]()
	}
}

// DenseStorage is a flat slot array indexed by entity index.
type DenseStorage[T any] struct {
	slots []Slot[T]
	mask  *bitset.BitSet
	n     int
}

func NewDenseStorage[T any]() *DenseStorage[T] {
	return &DenseStorage[T]{mask: bitset.New(0)}
}

func (s *DenseStorage[T]) Insert(index uint32, slot Slot[T]) (Slot[T], bool) {
	if int(index) >= len(s.slots) {
		grown := make([]Slot[T], int(index)+1, max(int(index)+1, 2*len(s.slots)))
		copy(grown, s.slots)
		s.slots = grown
	}
	if s.mask.Test(uint(index)) {
		old := s.slots[index]
		s.slots[index] = slot
		return old, true
	}
	s.slots[index] = slot
	s.mask.Set(uint(index))
	s.n++
	return Slot[T]{}, false
}

func (s *DenseStorage[T]) Remove(index uint32) (Slot[T], bool) {
	if !s.mask.Test(uint(index)) {
		return Slot[T]{}, false
	}
	old := s.slots[index]
	s.slots[index] = Slot[T]{}
	s.mask.Clear(uint(index))
	s.n--
	return old, true
}

func (s *DenseStorage[T]) Slot(index uint32) *Slot[T] {
	if !s.mask.Test(uint(index)) {
		return nil
	}
	return &s.slots[index]
}

func (s *DenseStorage[T]) Mask() *bitset.BitSet { return s.mask }
func (s *DenseStorage[T]) Len() int             { return s.n }
func (s *DenseStorage[T]) Partitioned()         {}

func (s *DenseStorage[T]) Clear() {
	clear(s.slots)
	s.slots = s.slots[:0]
	s.mask.ClearAll()
	s.n = 0
}

// SparseStorage maps entity indices to positions in a packed slot array.
type SparseStorage[T any] struct {
	sparse  []int32
	dense   []Slot[T]
	indices []uint32
	mask    *bitset.BitSet
}

func NewSparseStorage[T any]() *SparseStorage[T] {
	return &SparseStorage[T]{mask: bitset.New(0)}
}

func (s *SparseStorage[T]) position(index uint32) int32 {
	if int(index) >= len(s.sparse) {
		return -1
	}
	return s.sparse[index]
}

func (s *SparseStorage[T]) Insert(index uint32, slot Slot[T]) (Slot[T], bool) {
	if pos := s.position(index); pos >= 0 {
		old := s.dense[pos]
		s.dense[pos] = slot
		return old, true
	}
	for int(index) >= len(s.sparse) {
		s.sparse = append(s.sparse, -1)
	}
	s.sparse[index] = int32(len(s.dense))
	s.dense = append(s.dense, slot)
	s.indices = append(s.indices, index)
	s.mask.Set(uint(index))
	return Slot[T]{}, false
}

func (s *SparseStorage[T]) Remove(index uint32) (Slot[T], bool) {
	pos := s.position(index)
	if pos < 0 {
		return Slot[T]{}, false
	}
	old := s.dense[pos]
	last := int32(len(s.dense) - 1)
	if pos != last {
		moved := s.indices[last]
		s.dense[pos] = s.dense[last]
		s.indices[pos] = moved
		s.sparse[moved] = pos
	}
	s.dense[last] = Slot[T]{}
	s.dense = s.dense[:last]
	s.indices = s.indices[:last]
	s.sparse[index] = -1
	s.mask.Clear(uint(index))
	return old, true
}

func (s *SparseStorage[T]) Slot(index uint32) *Slot[T] {
	pos := s.position(index)
	if pos < 0 {
		return nil
	}
	return &s.dense[pos]
}

func (s *SparseStorage[T]) Mask() *bitset.BitSet { return s.mask }
func (s *SparseStorage[T]) Len() int             { return len(s.dense) }
func (s *SparseStorage[T]) Partitioned()         {}

func (s *SparseStorage[T]) Clear() {
	s.sparse = s.sparse[:0]
	clear(s.dense)
	s.dense = s.dense[:0]
	s.indices = s.indices[:0]
	s.mask.ClearAll()
}
