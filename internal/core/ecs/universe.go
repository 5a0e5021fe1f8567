package ecs

import (
	"sort"
	"sync"

	"github.com/rotisserie/eris"
)

// Universe holds several independent worlds (one per level, say) plus a
// globals container shared by all of them.
type Universe struct {
	mu      sync.RWMutex
	worlds  map[string]*World
	globals *Resources
}

// NewUniverse returns a universe without worlds.
func NewUniverse() *Universe {
	return &Universe{
		worlds:  make(map[string]*World, 4),
		globals: NewResources(),
	}
}

// Globals is the resource container shared across worlds. It has no clock,
// so its guards never report additions or changes.
func (u *Universe) Globals() *Resources { return u.globals }

// AddWorld registers w under name. Names are unique.
func (u *Universe) AddWorld(name string, w *World) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.worlds[name]; ok {
		return eris.Wrapf(ErrDuplicateType, "world %q", name)
	}
	u.worlds[name] = w
	return nil
}

// World looks up a world by name.
func (u *Universe) World(name string) (*World, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	w, ok := u.worlds[name]
	return w, ok
}

// RemoveWorld detaches the named world and returns it.
func (u *Universe) RemoveWorld(name string) (*World, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	w, ok := u.worlds[name]
	delete(u.worlds, name)
	return w, ok
}

// Names returns the world names in sorted order.
func (u *Universe) Names() []string {
	u.mu.RLock()
	names := make([]string, 0, len(u.worlds))
	for n := range u.worlds {
		names = append(names, n)
	}
	u.mu.RUnlock()
	sort.Strings(names)
	return names
}

// MoveEntity moves e and every component it carries from world src to
// world dst and returns its handle in dst. The destination must have every
// component type of e registered; otherwise nothing moves. Both worlds
// must be free of live guards.
func (u *Universe) MoveEntity(src, dst string, e Entity) (Entity, error) {
	from, ok := u.World(src)
	if !ok {
		return NoEntity, eris.Wrapf(ErrUnknownWorld, "%q", src)
	}
	to, ok := u.World(dst)
	if !ok {
		return NoEntity, eris.Wrapf(ErrUnknownWorld, "%q", dst)
	}
	if from == to {
		return e, nil
	}
	if !from.IsAlive(e) {
		return NoEntity, eris.Wrapf(ErrStaleEntity, "move %s from %q", e, src)
	}

	unlockFrom, err := from.registry.lockAll()
	if err != nil {
		return NoEntity, err
	}
	defer unlockFrom()
	unlockTo, err := to.registry.lockAll()
	if err != nil {
		return NoEntity, err
	}
	defer unlockTo()

	type move struct{ from, to erasedStore }
	var moves []move
	for _, s := range from.registry.stores {
		if !s.contains(e) {
			continue
		}
		target, ok := to.registry.byType[s.componentType()]
		if !ok {
			return NoEntity, eris.Wrapf(ErrUnregisteredType, "component %s in world %q", s.componentName(), dst)
		}
		moves = append(moves, move{from: s, to: target})
	}

	moved := to.entities.Allocate()
	tick := to.ChangeTick()
	for _, m := range moves {
		v, _ := m.from.removeEntity(e)
		if err := m.to.insertAny(moved, v, tick); err != nil {
			return NoEntity, err
		}
	}
	from.entities.Free(e)
	return moved, nil
}
