package scripting

import (
	"fmt"

	"github.com/l1jgo/runtime/internal/core/system"
	"github.com/l1jgo/runtime/internal/data"
)

// AddScripts registers every manifest entry that runs in world as a
// ScriptSystem of s. Returns the number of systems added.
func AddScripts(s *system.Schedule, world string, m *data.ScriptManifest) (int, error) {
	n := 0
	for _, e := range m.Entries() {
		if !e.RunsIn(world) {
			continue
		}
		stage, err := system.ParseStage(e.Stage)
		if err != nil {
			return n, fmt.Errorf("script %s: %w", e.Name, err)
		}
		bb, err := ParseBlackboardAccess(e.Blackboard)
		if err != nil {
			return n, fmt.Errorf("script %s: %w", e.Name, err)
		}
		opts := []system.SystemOption{system.InStage(stage)}
		if len(e.Before) > 0 {
			opts = append(opts, system.Before(e.Before...))
		}
		if len(e.After) > 0 {
			opts = append(opts, system.After(e.After...))
		}
		if err := s.AddSystem(NewScriptSystem(e.Name, e.Function, bb), opts...); err != nil {
			return n, fmt.Errorf("script %s: %w", e.Name, err)
		}
		n++
	}
	return n, nil
}
