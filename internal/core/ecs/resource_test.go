package ecs_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l1jgo/runtime/internal/core/ecs"
)

type Score struct{ Points int }

type Missing struct{}

func TestBorrowExclusivity(t *testing.T) {
	r := ecs.NewResources()
	require.NoError(t, ecs.InsertResource(r, Score{Points: 1}))

	r1, err := ecs.ReadResource[Score](r)
	require.NoError(t, err)
	r2, err := ecs.ReadResource[Score](r)
	require.NoError(t, err, "shared guards coexist")

	_, err = ecs.WriteResource[Score](r)
	assert.ErrorIs(t, err, ecs.ErrBorrowConflict)

	r1.Release()
	r1.Release()
	_, err = ecs.WriteResource[Score](r)
	assert.ErrorIs(t, err, ecs.ErrBorrowConflict, "double release must not free the other reader")
	r2.Release()

	m, err := ecs.WriteResource[Score](r)
	require.NoError(t, err)
	_, err = ecs.ReadResource[Score](r)
	assert.ErrorIs(t, err, ecs.ErrBorrowConflict)
	_, err = ecs.WriteResource[Score](r)
	assert.ErrorIs(t, err, ecs.ErrBorrowConflict)
	m.Get().Points = 5
	m.Release()

	ref, err := ecs.ReadResource[Score](r)
	require.NoError(t, err)
	assert.Equal(t, 5, ref.Get().Points)
	ref.Release()
}

func TestUnregisteredResource(t *testing.T) {
	r := ecs.NewResources()
	_, err := ecs.ReadResource[Missing](r)
	assert.ErrorIs(t, err, ecs.ErrUnregisteredType)
	_, err = ecs.WriteResource[Missing](r)
	assert.ErrorIs(t, err, ecs.ErrUnregisteredType)
	assert.False(t, ecs.HasResource[Missing](r))
}

func TestInsertResourceReplaces(t *testing.T) {
	r := ecs.NewResources()
	require.NoError(t, ecs.InsertResource(r, Score{Points: 1}))
	require.NoError(t, ecs.InsertResource(r, Score{Points: 2}))

	ref, err := ecs.ReadResource[Score](r)
	require.NoError(t, err)
	assert.Equal(t, 2, ref.Get().Points)
	assert.ErrorIs(t, ecs.InsertResource(r, Score{Points: 3}), ecs.ErrBorrowConflict)
	ref.Release()
}

func TestRemoveResource(t *testing.T) {
	r := ecs.NewResources()
	require.NoError(t, ecs.InsertResource(r, Score{Points: 4}))

	ref, err := ecs.ReadResource[Score](r)
	require.NoError(t, err)
	_, _, err = ecs.RemoveResource[Score](r)
	assert.ErrorIs(t, err, ecs.ErrBorrowConflict)
	ref.Release()

	v, ok, err := ecs.RemoveResource[Score](r)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, v.Points)
	assert.False(t, ecs.HasResource[Score](r))

	_, ok, err = ecs.RemoveResource[Score](r)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResourceOrInsert(t *testing.T) {
	r := ecs.NewResources()
	calls := 0
	factory := func() Score {
		calls++
		return Score{Points: 9}
	}

	ref, err := ecs.ResourceOrInsert(r, factory)
	require.NoError(t, err)
	assert.Equal(t, 9, ref.Get().Points)
	ref.Release()

	m, err := ecs.ResourceOrInsertMut(r, factory)
	require.NoError(t, err)
	m.Get().Points++
	m.Release()

	assert.Equal(t, 1, calls)
	ref, err = ecs.ReadResource[Score](r)
	require.NoError(t, err)
	assert.Equal(t, 10, ref.Get().Points)
	ref.Release()
}

func TestWithResourceReleasesOnEveryPath(t *testing.T) {
	r := ecs.NewResources()
	require.NoError(t, ecs.InsertResource(r, Score{}))

	boom := errors.New("boom")
	err := ecs.WithResourceMut(r, func(s *Score) error {
		s.Points = 3
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() {
		_ = ecs.WithResource(r, func(*Score) error { panic("system bug") })
	})

	err = ecs.WithResourceMut(r, func(s *Score) error {
		assert.Equal(t, 3, s.Points)
		return nil
	})
	assert.NoError(t, err)
}

func TestResourceChangeTicks(t *testing.T) {
	w := ecs.NewWorld()
	r := w.Resources()
	require.NoError(t, ecs.InsertResource(r, Score{}))

	ref, err := ecs.ReadResource[Score](r)
	require.NoError(t, err)
	assert.True(t, ref.IsAdded())
	ref.Release()

	_, err = w.Maintain()
	require.NoError(t, err)

	ref, err = ecs.ReadResource[Score](r)
	require.NoError(t, err)
	assert.False(t, ref.IsAdded())
	assert.False(t, ref.IsChanged())
	ref.Release()

	m, err := ecs.WriteResource[Score](r)
	require.NoError(t, err)
	m.Get().Points++
	assert.True(t, m.IsChanged())
	assert.False(t, m.IsAdded())
	m.Release()
}

func TestTypeKeys(t *testing.T) {
	assert.NotEqual(t, ecs.ResourceKey[Score](), ecs.ComponentKey[Score]())
	assert.Equal(t, ecs.ResourceKey[Score](), ecs.ResourceKey[Score]())

	w := ecs.NewWorld()
	require.NoError(t, ecs.RegisterComponent[Pos](w, ecs.Dense))
	assert.True(t, w.Resources().Has(ecs.ComponentKey[Pos]()))
	assert.False(t, w.Resources().Has(ecs.ResourceKey[Pos]()))
}
