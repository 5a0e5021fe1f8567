package system_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/l1jgo/runtime/internal/component"
	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
	"github.com/l1jgo/runtime/internal/persist"
	"github.com/l1jgo/runtime/internal/system"
)

// memStore keeps snapshots in memory, newest last.
type memStore struct {
	snaps  map[string][]*persist.Snapshot
	failOn string
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string][]*persist.Snapshot)}
}

func (m *memStore) Save(_ context.Context, snap *persist.Snapshot) error {
	if snap.World == m.failOn {
		return errors.New("disk full")
	}
	m.snaps[snap.World] = append(m.snaps[snap.World], snap)
	return nil
}

func (m *memStore) LoadLatest(_ context.Context, world string) (*persist.Snapshot, error) {
	s := m.snaps[world]
	if len(s) == 0 {
		return nil, nil
	}
	return s[len(s)-1], nil
}

func (m *memStore) Prune(_ context.Context, world string, keep int) (int64, error) {
	s := m.snaps[world]
	if len(s) <= keep {
		return 0, nil
	}
	n := len(s) - keep
	m.snaps[world] = s[n:]
	return int64(n), nil
}

func TestSnapshotterInterval(t *testing.T) {
	u := newUniverse(t, "town", "field")
	town := world(t, u, "town")
	leader := body(t, town, mgl64.Vec3{1, 2, 3}, mgl64.Vec3{})
	body(t, town, mgl64.Vec3{}, mgl64.Vec3{}, component.Follow{Target: leader, Speed: 1})

	store := newMemStore()
	bus := event.NewBus()
	s := system.NewSnapshotter(u, store, zaptest.NewLogger(t), 2, 2)
	s.Notify("town", bus)

	ctx := context.Background()
	s.Tick(ctx)
	assert.Empty(t, store.snaps)
	s.Tick(ctx)
	assert.Len(t, store.snaps["town"], 1)
	assert.Len(t, store.snaps["field"], 1)

	bus.SwapBuffers()
	saved := event.Read[event.SnapshotSaved](bus)
	require.Len(t, saved, 1)
	assert.Equal(t, 2, saved[0].Entities)

	for i := 0; i < 4; i++ {
		s.Tick(ctx)
	}
	assert.Len(t, store.snaps["town"], 2, "older snapshots are pruned")
}

func TestSnapshotterSaveAllCollectsErrors(t *testing.T) {
	u := newUniverse(t, "town", "field")
	store := newMemStore()
	store.failOn = "field"
	s := system.NewSnapshotter(u, store, zaptest.NewLogger(t), 0, 0)

	s.Tick(context.Background())
	assert.Empty(t, store.snaps, "interval 0 disables periodic snapshots")

	err := s.SaveAll(context.Background())
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, store.snaps["town"], 1, "other worlds are still saved")
}

func TestSnapshotterRestoreLatest(t *testing.T) {
	src := newUniverse(t, "town")
	town := world(t, src, "town")
	leader := body(t, town, mgl64.Vec3{1, 2, 3}, mgl64.Vec3{})
	body(t, town, mgl64.Vec3{}, mgl64.Vec3{}, component.Follow{Target: leader, Speed: 1})

	store := newMemStore()
	require.NoError(t, system.NewSnapshotter(src, store, zaptest.NewLogger(t), 0, 0).SaveAll(context.Background()))

	dst := newUniverse(t, "town", "field")
	n, err := system.NewSnapshotter(dst, store, zaptest.NewLogger(t), 0, 0).RestoreLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	restored := world(t, dst, "town")
	rf, err := ecs.ReadComponent[component.Follow](restored)
	require.NoError(t, err)
	defer rf.Release()
	rp, err := ecs.ReadComponent[component.Position](restored)
	require.NoError(t, err)
	defer rp.Release()
	require.Equal(t, 1, rf.Len())
	rf.Each(func(_ ecs.Entity, f *component.Follow) {
		p, ok := rp.Get(f.Target)
		require.True(t, ok, "follow target is remapped to the restored leader")
		assert.Equal(t, mgl64.Vec3{1, 2, 3}, p.Vec)
	})
}
