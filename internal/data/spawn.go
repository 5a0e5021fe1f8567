package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SpawnEntry defines where and how many demo bodies to create in a world
// at startup.
type SpawnEntry struct {
	World   string     `yaml:"world"`
	Count   int        `yaml:"count"`
	Origin  [3]float64 `yaml:"origin"`
	Spread  float64    `yaml:"spread"`  // bodies are placed within +-spread of origin
	Speed   float64    `yaml:"speed"`   // initial speed, random heading
	Tracked bool       `yaml:"tracked"` // add the follow-the-leader component
}

type spawnListFile struct {
	Bounds float64      `yaml:"bounds"`
	Spawns []SpawnEntry `yaml:"spawns"`
}

// SpawnList is the parsed spawns.yaml.
type SpawnList struct {
	Bounds float64 // half-extent of the cube bodies bounce inside
	Spawns []SpawnEntry
}

// LoadSpawnList loads spawn entries from a YAML file.
func LoadSpawnList(path string) (*SpawnList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn list: %w", err)
	}
	var f spawnListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse spawn list: %w", err)
	}
	if f.Bounds <= 0 {
		f.Bounds = 100
	}
	for i, s := range f.Spawns {
		if s.World == "" {
			return nil, fmt.Errorf("spawn list: entry %d has no world", i)
		}
		if s.Count < 0 {
			return nil, fmt.Errorf("spawn list: entry %d has negative count", i)
		}
	}
	return &SpawnList{Bounds: f.Bounds, Spawns: f.Spawns}, nil
}

// ForWorld returns the entries for the named world.
func (l *SpawnList) ForWorld(world string) []SpawnEntry {
	var out []SpawnEntry
	for _, s := range l.Spawns {
		if s.World == world {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the total number of bodies the list spawns.
func (l *SpawnList) Count() int {
	n := 0
	for _, s := range l.Spawns {
		n += s.Count
	}
	return n
}
