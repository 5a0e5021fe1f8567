package system

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
	"github.com/l1jgo/runtime/internal/persist"
)

// SnapshotStore is the part of persist.SnapshotRepo the snapshotter needs.
type SnapshotStore interface {
	Save(ctx context.Context, snap *persist.Snapshot) error
	LoadLatest(ctx context.Context, world string) (*persist.Snapshot, error)
	Prune(ctx context.Context, world string, keep int) (int64, error)
}

// Snapshotter periodically captures every world of a universe and stores
// the snapshots. It runs between passes, from the host loop.
type Snapshotter struct {
	universe  *ecs.Universe
	store     SnapshotStore
	buses     map[string]*event.Bus
	log       *zap.Logger
	tickCount int
	interval  int // snapshot every N passes; 0 = only on demand
	keep      int
}

func NewSnapshotter(u *ecs.Universe, store SnapshotStore, log *zap.Logger, intervalTicks, keep int) *Snapshotter {
	return &Snapshotter{
		universe: u,
		store:    store,
		buses:    make(map[string]*event.Bus),
		log:      log,
		interval: intervalTicks,
		keep:     keep,
	}
}

// Notify makes the snapshotter emit SnapshotSaved on bus for world.
func (s *Snapshotter) Notify(world string, bus *event.Bus) {
	s.buses[world] = bus
}

// Tick counts one pass and snapshots all worlds when the interval is up.
func (s *Snapshotter) Tick(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	if err := s.SaveAll(ctx); err != nil {
		s.log.Error("periodic snapshot failed", zap.Error(err))
	}
}

// SaveAll snapshots every world immediately. Called for graceful shutdown.
// A failing world does not stop the others.
func (s *Snapshotter) SaveAll(ctx context.Context) error {
	var errs error
	for _, name := range s.universe.Names() {
		errs = multierr.Append(errs, s.save(ctx, name))
	}
	return errs
}

func (s *Snapshotter) save(ctx context.Context, name string) error {
	w, ok := s.universe.World(name)
	if !ok {
		return nil
	}
	snap, err := persist.Capture(w, name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, snap); err != nil {
		return err
	}
	pruned := int64(0)
	if s.keep > 0 {
		if pruned, err = s.store.Prune(ctx, name, s.keep); err != nil {
			return err
		}
	}

	s.log.Info("snapshot saved",
		zap.String("world", name),
		zap.Stringer("id", snap.ID),
		zap.Int("entities", len(snap.Entities)),
		zap.Int64("pruned", pruned),
	)
	if bus := s.buses[name]; bus != nil {
		event.Emit(bus, event.SnapshotSaved{ID: snap.ID.String(), Entities: len(snap.Entities)})
	}
	return nil
}

// RestoreLatest loads the newest snapshot of every empty world. Returns the
// number of entities restored.
func (s *Snapshotter) RestoreLatest(ctx context.Context) (int, error) {
	total := 0
	for _, name := range s.universe.Names() {
		w, _ := s.universe.World(name)
		if w.Entities().Len() > 0 {
			continue
		}
		snap, err := s.store.LoadLatest(ctx, name)
		if err != nil {
			return total, err
		}
		if snap == nil {
			continue
		}
		mapping, err := persist.Restore(w, snap)
		if err != nil {
			return total, err
		}
		total += len(mapping)
		s.log.Info("snapshot restored",
			zap.String("world", name),
			zap.Stringer("id", snap.ID),
			zap.Uint32("tick", uint32(snap.Tick)),
			zap.Int("entities", len(mapping)),
		)
	}
	return total, nil
}
