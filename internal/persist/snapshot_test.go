package persist

import (
	"encoding/json"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/runtime/internal/core/ecs"
)

type position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type follows struct {
	Target ecs.Entity `json:"target"`
}

func (f *follows) RemapEntities(remap func(ecs.Entity) ecs.Entity) {
	f.Target = remap(f.Target)
}

func snapshotWorld(t *testing.T) *ecs.World {
	t.Helper()
	w := ecs.NewWorld()
	require.NoError(t, ecs.RegisterNamedComponent[position](w, "position", ecs.Dense))
	require.NoError(t, ecs.RegisterNamedComponent[follows](w, "follows", ecs.Map))
	return w
}

func TestCaptureAndRestore(t *testing.T) {
	src := snapshotWorld(t)
	// burn an index so entity handles differ between the worlds
	gap := src.CreateEntity().Entity()
	leader, err := src.CreateEntity().With(position{X: 1, Y: 2}).Build()
	require.NoError(t, err)
	follower, err := src.CreateEntity().With(position{X: 3}).With(follows{Target: leader}).Build()
	require.NoError(t, err)
	_, err = src.DeleteEntity(gap)
	require.NoError(t, err)

	snap, err := Capture(src, "town")
	require.NoError(t, err)
	assert.Equal(t, "town", snap.World)
	assert.Equal(t, []ecs.Entity{leader, follower}, snap.Entities)
	assert.Len(t, snap.Components, 3)

	dst := snapshotWorld(t)
	mapping, err := Restore(dst, snap)
	require.NoError(t, err)
	require.Len(t, mapping, 2)
	assert.NotEqual(t, leader, mapping[leader])

	rp, err := ecs.ReadComponent[position](dst)
	require.NoError(t, err)
	p, ok := rp.Get(mapping[leader])
	require.True(t, ok)
	assert.Equal(t, position{X: 1, Y: 2}, *p)
	rp.Release()

	rf, err := ecs.ReadComponent[follows](dst)
	require.NoError(t, err)
	f, ok := rf.Get(mapping[follower])
	require.True(t, ok)
	assert.Equal(t, mapping[leader], f.Target, "entity references are remapped")
	rf.Release()
}

func TestRestoreUnknownComponent(t *testing.T) {
	w := snapshotWorld(t)
	snap := &Snapshot{
		Entities: []ecs.Entity{ecs.NewEntity(0, 1)},
		Components: []ComponentRow{
			{Entity: ecs.NewEntity(0, 1), Component: "velocity", Data: json.RawMessage(`{}`)},
		},
	}
	_, err := Restore(w, snap)
	assert.ErrorContains(t, err, "velocity")
	assert.Equal(t, 0, w.Entities().Len(), "partial restore is rolled back")
}

func TestCaptureFailsWhileStorageWritten(t *testing.T) {
	w := snapshotWorld(t)
	ws, err := ecs.WriteComponent[position](w)
	require.NoError(t, err)
	defer ws.Release()

	_, err = Capture(w, "town")
	assert.ErrorIs(t, err, ecs.ErrBorrowConflict)
}

func TestSnapshotChecksum(t *testing.T) {
	w := snapshotWorld(t)
	a, err := w.CreateEntity().With(position{X: 1}).Build()
	require.NoError(t, err)
	_, err = w.CreateEntity().With(position{X: 2}).With(follows{Target: a}).Build()
	require.NoError(t, err)

	snap, err := Capture(w, "town")
	require.NoError(t, err)
	require.Len(t, snap.Checksum, 32)
	require.NoError(t, snap.Verify())

	// row order and JSON formatting change in storage; the sum must not
	slices.Reverse(snap.Components)
	snap.Components[0].Data = json.RawMessage(`{"target": ` + strconv.FormatUint(uint64(a), 10) + `}`)
	assert.NoError(t, snap.Verify())

	snap.Components[1].Data = json.RawMessage(`{"x": 99, "y": 0}`)
	assert.ErrorIs(t, snap.Verify(), ErrChecksumMismatch)
	_, err = Restore(snapshotWorld(t), snap)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}
