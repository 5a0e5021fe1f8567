package system

import (
	"fmt"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
)

// MigrateBodies moves up to n free bodies (those not following anything)
// from world src to world dst. It must run between passes. Followers of a
// moved body drop their Follow on the next pass of src.
func MigrateBodies(u *ecs.Universe, src, dst string, n int) ([]ecs.Entity, error) {
	from, ok := u.World(src)
	if !ok {
		return nil, fmt.Errorf("migrate: unknown world %q", src)
	}

	candidates, err := freeBodies(from, n)
	if err != nil {
		return nil, fmt.Errorf("migrate from %s: %w", src, err)
	}

	moved := make([]ecs.Entity, 0, len(candidates))
	for _, e := range candidates {
		ne, err := u.MoveEntity(src, dst, e)
		if err != nil {
			return moved, fmt.Errorf("migrate %s: %w", e, err)
		}
		moved = append(moved, ne)
	}
	return moved, nil
}

func freeBodies(w *ecs.World, n int) ([]ecs.Entity, error) {
	rp, err := ecs.ReadComponent[component.Position](w)
	if err != nil {
		return nil, err
	}
	defer rp.Release()
	rf, err := ecs.ReadComponent[component.Follow](w)
	if err != nil {
		return nil, err
	}
	defer rf.Release()

	var out []ecs.Entity
	ecs.Join3(w.Entities(), rp, ecs.Without[*component.Follow](rf),
		func(e ecs.Entity, _ *component.Position, _ struct{}) {
			if len(out) < n {
				out = append(out, e)
			}
		})
	return out, nil
}
