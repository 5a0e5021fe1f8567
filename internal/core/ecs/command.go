package ecs

import (
	"reflect"
	"sync"
)

type insertCommand struct {
	entity    Entity
	component any
}

type removeCommand struct {
	entity   Entity
	compType reflect.Type
}

// Commands buffers structural changes requested while storages are
// borrowed. It is safe for concurrent use; World.Maintain drains it.
type Commands struct {
	mu       sync.Mutex
	entities *Entities
	inserts  []insertCommand
	removes  []removeCommand
	defers   []func(*World)
}

func newCommands(es *Entities) *Commands {
	return &Commands{entities: es}
}

// Create reserves an entity and queues its components. The entity is
// visible to joins after the next Maintain.
func (c *Commands) Create(components ...any) Entity {
	e := c.entities.AllocateDeferred()
	c.mu.Lock()
	for _, comp := range components {
		c.inserts = append(c.inserts, insertCommand{entity: e, component: comp})
	}
	c.mu.Unlock()
	return e
}

// Delete queues e for destruction.
func (c *Commands) Delete(e Entity) {
	c.entities.FreeDeferred(e)
}

// Insert queues a component insertion for e.
func (c *Commands) Insert(e Entity, component any) {
	c.mu.Lock()
	c.inserts = append(c.inserts, insertCommand{entity: e, component: component})
	c.mu.Unlock()
}

// Defer queues fn to run at the end of Maintain, with all storages unlocked.
func (c *Commands) Defer(fn func(*World)) {
	c.mu.Lock()
	c.defers = append(c.defers, fn)
	c.mu.Unlock()
}

// Len returns the number of queued operations, excluding deletes.
func (c *Commands) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inserts) + len(c.removes) + len(c.defers)
}

// RemoveComponent queues removal of e's T component.
func RemoveComponent[T any](c *Commands, e Entity) {
	c.mu.Lock()
	c.removes = append(c.removes, removeCommand{entity: e, compType: reflect.TypeFor[T]()})
	c.mu.Unlock()
}

func (c *Commands) drain() ([]insertCommand, []removeCommand, []func(*World)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inserts, removes, defers := c.inserts, c.removes, c.defers
	c.inserts, c.removes, c.defers = nil, nil, nil
	return inserts, removes, defers
}
