package ecs

import "github.com/rotisserie/eris"

var (
	// ErrBorrowConflict is returned when a guard is requested while an
	// incompatible guard on the same resource or storage is live.
	ErrBorrowConflict = eris.New("ecs: borrow conflict")

	// ErrUnregisteredType is returned for component or resource types that
	// were never registered with the world.
	ErrUnregisteredType = eris.New("ecs: unregistered type")

	// ErrDuplicateType is returned when a component type is registered twice.
	ErrDuplicateType = eris.New("ecs: type already registered")

	// ErrStaleEntity is only returned by writes. Lookups with a stale handle
	// report absence instead.
	ErrStaleEntity = eris.New("ecs: stale entity")

	// ErrUnboundedJoin is the panic value of a join without any accessor
	// that bounds the iterated index set.
	ErrUnboundedJoin = eris.New("ecs: join has no bounding accessor")

	// ErrNotPartitionable is returned by parallel joins that would write to a
	// storage not implementing Partitioned.
	ErrNotPartitionable = eris.New("ecs: storage is not partitionable")

	// ErrUnknownWorld is returned by Universe lookups of unknown world names.
	ErrUnknownWorld = eris.New("ecs: unknown world")
)
