package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScriptEntry declares one Lua function as a scheduled system.
type ScriptEntry struct {
	Name       string   `yaml:"name"`
	Function   string   `yaml:"function"` // defaults to Name
	Stage      string   `yaml:"stage"`    // first, pre_update, update, post_update, last
	Before     []string `yaml:"before"`
	After      []string `yaml:"after"`
	Blackboard string   `yaml:"blackboard"` // none, read, write
	Worlds     []string `yaml:"worlds"`     // empty = every world
	Disabled   bool     `yaml:"disabled"`
}

// RunsIn reports whether the entry applies to the named world.
func (e *ScriptEntry) RunsIn(world string) bool {
	if len(e.Worlds) == 0 {
		return true
	}
	for _, w := range e.Worlds {
		if w == world {
			return true
		}
	}
	return false
}

type scriptManifestFile struct {
	Scripts []ScriptEntry `yaml:"scripts"`
}

// ScriptManifest is the ordered list of script systems from systems.yaml.
type ScriptManifest struct {
	entries []ScriptEntry
	byName  map[string]*ScriptEntry
}

// LoadScriptManifest loads systems.yaml. Disabled entries are dropped.
func LoadScriptManifest(path string) (*ScriptManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script manifest: %w", err)
	}
	var f scriptManifestFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse script manifest: %w", err)
	}
	m := &ScriptManifest{
		byName: make(map[string]*ScriptEntry, len(f.Scripts)),
	}
	for _, e := range f.Scripts {
		if e.Disabled {
			continue
		}
		if e.Name == "" {
			return nil, fmt.Errorf("script manifest: entry %d has no name", len(m.entries))
		}
		if _, dup := m.byName[e.Name]; dup {
			return nil, fmt.Errorf("script manifest: duplicate script %q", e.Name)
		}
		if e.Function == "" {
			e.Function = e.Name
		}
		m.byName[e.Name] = &e
		m.entries = append(m.entries, e)
	}
	return m, nil
}

// Entries returns the scripts in file order.
func (m *ScriptManifest) Entries() []ScriptEntry {
	return m.entries
}

// Get returns the named script, or nil if none.
func (m *ScriptManifest) Get(name string) *ScriptEntry {
	return m.byName[name]
}

// Count returns the total number of scripts loaded.
func (m *ScriptManifest) Count() int {
	return len(m.entries)
}
