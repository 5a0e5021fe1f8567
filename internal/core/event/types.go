package event

import "github.com/l1jgo/runtime/internal/core/ecs"

// Lifecycle events emitted by the schedule after each flush.

type EntitiesCreated struct {
	Entities []ecs.Entity
}

type EntitiesDeleted struct {
	Entities []ecs.Entity
}

// SnapshotSaved is emitted by the host after a snapshot was persisted.
type SnapshotSaved struct {
	ID       string
	Entities int
}
