package persist

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/l1jgo/runtime/internal/core/ecs"
)

// Snapshot is the serialized state of one world: its live entities and
// every registered component as JSON, keyed by component name.
type Snapshot struct {
	ID         uuid.UUID
	World      string
	Tick       ecs.Tick
	CreatedAt  time.Time
	Entities   []ecs.Entity
	Components []ComponentRow
	Checksum   []byte // blake2b-256 over Entities and Components
}

// ErrChecksumMismatch is returned by Verify for snapshots whose contents
// do not match their checksum.
var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// Sum computes the checksum of the snapshot contents. Component rows are
// hashed in (entity, component) order with their JSON in canonical form,
// so the sum survives a round trip through JSONB.
func (s *Snapshot) Sum() []byte {
	h, _ := blake2b.New256(nil)
	var buf [8]byte
	for _, e := range s.Entities {
		binary.LittleEndian.PutUint64(buf[:], uint64(e))
		h.Write(buf[:])
	}
	rows := slices.Clone(s.Components)
	slices.SortFunc(rows, func(a, b ComponentRow) int {
		if c := cmp.Compare(a.Entity, b.Entity); c != 0 {
			return c
		}
		return strings.Compare(a.Component, b.Component)
	})
	for _, c := range rows {
		binary.LittleEndian.PutUint64(buf[:], uint64(c.Entity))
		h.Write(buf[:])
		h.Write([]byte(c.Component))
		h.Write([]byte{0})
		h.Write(canonicalJSON(c.Data))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// canonicalJSON re-encodes data with sorted keys and no whitespace.
func canonicalJSON(data []byte) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return data
	}
	out, err := json.Marshal(v)
	if err != nil {
		return data
	}
	return out
}

// Verify checks the stored checksum. Snapshots without one pass.
func (s *Snapshot) Verify() error {
	if len(s.Checksum) == 0 {
		return nil
	}
	if !bytes.Equal(s.Checksum, s.Sum()) {
		return fmt.Errorf("snapshot %s: %w", s.ID, ErrChecksumMismatch)
	}
	return nil
}

// ComponentRow is one (entity, component) pair of a snapshot.
type ComponentRow struct {
	Entity    ecs.Entity
	Component string
	Data      json.RawMessage
}

// EntityRemapper is implemented by components that hold entity handles.
// Restore hands them the old -> new mapping after decoding.
type EntityRemapper interface {
	RemapEntities(remap func(ecs.Entity) ecs.Entity)
}

// Capture walks every component set of w. It needs shared access to all
// storages, so it runs between passes.
func Capture(w *ecs.World, world string) (*Snapshot, error) {
	snap := &Snapshot{
		ID:        uuid.New(),
		World:     world,
		Tick:      w.ChangeTick(),
		CreatedAt: time.Now().UTC(),
		Entities:  make([]ecs.Entity, 0, w.Entities().Len()),
	}
	w.Entities().Each(func(e ecs.Entity) {
		snap.Entities = append(snap.Entities, e)
	})

	for _, set := range w.ComponentSets() {
		var encodeErr error
		err := set.Each(func(e ecs.Entity, v any) {
			if encodeErr != nil {
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				encodeErr = fmt.Errorf("encode %s of %s: %w", set.Name(), e, err)
				return
			}
			snap.Components = append(snap.Components, ComponentRow{Entity: e, Component: set.Name(), Data: data})
		})
		if err != nil {
			return nil, fmt.Errorf("capture %s: %w", set.Name(), err)
		}
		if encodeErr != nil {
			return nil, encodeErr
		}
	}
	snap.Checksum = snap.Sum()
	return snap, nil
}

// Restore recreates the entities of snap in w, which must have the same
// component names registered, and returns the old -> new entity mapping.
// Components of unknown names fail the restore; entities already created
// are deleted again.
func Restore(w *ecs.World, snap *Snapshot) (map[ecs.Entity]ecs.Entity, error) {
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	mapping := make(map[ecs.Entity]ecs.Entity, len(snap.Entities))
	for _, old := range snap.Entities {
		mapping[old] = w.CreateEntity().Entity()
	}
	remap := func(e ecs.Entity) ecs.Entity {
		if n, ok := mapping[e]; ok {
			return n
		}
		return ecs.NoEntity
	}

	for _, row := range snap.Components {
		if err := restoreRow(w, row, remap); err != nil {
			for _, e := range mapping {
				_, _ = w.DeleteEntity(e)
			}
			return nil, err
		}
	}
	return mapping, nil
}

func restoreRow(w *ecs.World, row ComponentRow, remap func(ecs.Entity) ecs.Entity) error {
	set, ok := w.ComponentSet(row.Component)
	if !ok {
		return fmt.Errorf("restore: component %q is not registered", row.Component)
	}
	target := remap(row.Entity)
	if target.IsZero() {
		return fmt.Errorf("restore: %s of unknown entity %s", row.Component, row.Entity)
	}
	v := set.New()
	if err := json.Unmarshal(row.Data, v); err != nil {
		return fmt.Errorf("decode %s of %s: %w", row.Component, row.Entity, err)
	}
	if rm, ok := v.(EntityRemapper); ok {
		rm.RemapEntities(remap)
	}
	return set.Restore(target, v)
}
