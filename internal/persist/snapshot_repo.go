package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/l1jgo/runtime/internal/core/ecs"
)

// SnapshotRepo stores world snapshots in PostgreSQL.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save writes the snapshot header and its component rows in one
// transaction; component rows go through COPY.
func (r *SnapshotRepo) Save(ctx context.Context, snap *Snapshot) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback(ctx)

	entities := make([]int64, len(snap.Entities))
	for i, e := range snap.Entities {
		entities[i] = int64(e)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO ecs_snapshots (id, world, tick, entities, created_at, checksum)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		[16]byte(snap.ID), snap.World, int64(snap.Tick), entities, snap.CreatedAt, snap.Checksum,
	); err != nil {
		return fmt.Errorf("snapshot insert: %w", err)
	}

	rows := make([][]any, len(snap.Components))
	for i, c := range snap.Components {
		rows[i] = []any{[16]byte(snap.ID), int64(c.Entity), c.Component, string(c.Data)}
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ecs_snapshot_components"},
		[]string{"snapshot_id", "entity", "component", "data"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return fmt.Errorf("snapshot components: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadLatest returns the newest snapshot of world, or nil if there is none.
func (r *SnapshotRepo) LoadLatest(ctx context.Context, world string) (*Snapshot, error) {
	var (
		snap     Snapshot
		id       string
		tick     int64
		entities []int64
	)
	err := r.db.Pool.QueryRow(ctx,
		`SELECT id::text, world, tick, entities, created_at, checksum
		 FROM ecs_snapshots WHERE world = $1
		 ORDER BY created_at DESC LIMIT 1`, world,
	).Scan(&id, &snap.World, &tick, &entities, &snap.CreatedAt, &snap.Checksum)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if snap.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("snapshot id %q: %w", id, err)
	}
	snap.Tick = ecs.Tick(tick)
	snap.Entities = make([]ecs.Entity, len(entities))
	for i, e := range entities {
		snap.Entities[i] = ecs.Entity(e)
	}

	rows, err := r.db.Pool.Query(ctx,
		`SELECT entity, component, data::text
		 FROM ecs_snapshot_components WHERE snapshot_id = $1
		 ORDER BY entity, component`, [16]byte(snap.ID),
	)
	if err != nil {
		return nil, fmt.Errorf("load snapshot components: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c      ComponentRow
			entity int64
			data   string
		)
		if err := rows.Scan(&entity, &c.Component, &data); err != nil {
			return nil, err
		}
		c.Entity = ecs.Entity(entity)
		c.Data = []byte(data)
		snap.Components = append(snap.Components, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := snap.Verify(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Prune deletes all but the newest keep snapshots of world. Component rows
// go with them (ON DELETE CASCADE).
func (r *SnapshotRepo) Prune(ctx context.Context, world string, keep int) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM ecs_snapshots WHERE world = $1 AND id NOT IN (
		     SELECT id FROM ecs_snapshots WHERE world = $1
		     ORDER BY created_at DESC LIMIT $2)`,
		world, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of stored snapshots of world.
func (r *SnapshotRepo) Count(ctx context.Context, world string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ecs_snapshots WHERE world = $1`, world,
	).Scan(&n)
	return n, err
}
