package component

import "github.com/l1jgo/runtime/internal/core/ecs"

// Register registers every body component in w under its snapshot name.
func Register(w *ecs.World) error {
	if err := ecs.RegisterNamedComponent[Position](w, "position", ecs.Dense); err != nil {
		return err
	}
	if err := ecs.RegisterNamedComponent[Velocity](w, "velocity", ecs.Dense); err != nil {
		return err
	}
	if err := ecs.RegisterNamedComponent[Follow](w, "follow", ecs.Map); err != nil {
		return err
	}
	return ecs.RegisterNamedComponent[Energy](w, "energy", ecs.Sparse)
}
