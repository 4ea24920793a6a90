// Package spatial maintains the bounding-box index mirroring the clash-zone
// store. The strategy is chosen once at store-open time: the rtree index when
// the sqlite build supports it, a linear table scan otherwise. Both paths
// apply the identical containment predicate and must return the same result
// set for the same inputs; the fallback trades throughput, never behavior.
package spatial

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

type Strategy interface {
	// Name identifies the active strategy in logs and the reindex tool.
	Name() string
	// Rebuild clears and repopulates the index from every zone with a valid
	// box. A no-op for the linear strategy.
	Rebuild(dbc dbctx.Context) error
	// VerifyConsistency compares index row count against the count of
	// valid-box zones. A mismatch triggers a full rebuild and returns false.
	VerifyConsistency(dbc dbctx.Context) (bool, error)
	// QueryRegion returns ids of zones whose box intersects the region.
	QueryRegion(dbc dbctx.Context, region domain.Box) ([]uuid.UUID, error)
	// RefreshZones re-mirrors the given zones after an upsert pass.
	RefreshZones(dbc dbctx.Context, ids []uuid.UUID) error
}

// Valid-box predicate over clash_zone columns. Kept in one place so the
// rebuild, the consistency count, and the linear scan can never drift apart.
const validBoxSQL = `min_x < max_x AND min_y < max_y AND min_z < max_z
	AND NOT (min_x = 0 AND min_y = 0 AND min_z = 0 AND max_x = 0 AND max_y = 0 AND max_z = 0)`

// Intersection predicate parameter order: MaxX, MinX, MaxY, MinY, MaxZ, MinZ
// of the query region.
const intersectsSQL = `min_x <= ? AND max_x >= ? AND min_y <= ? AND max_y >= ? AND min_z <= ? AND max_z >= ?`

func regionArgs(region domain.Box) []any {
	return []any{region.MaxX, region.MinX, region.MaxY, region.MinY, region.MaxZ, region.MinZ}
}

// New selects the strategy for this session.
func New(db *gorm.DB, indexed bool, baseLog *logger.Logger) Strategy {
	if indexed {
		return &rtreeStrategy{db: db, log: baseLog.With("repo", "SpatialIndex", "strategy", "rtree")}
	}
	return &linearStrategy{db: db, log: baseLog.With("repo", "SpatialIndex", "strategy", "linear")}
}

func base(db *gorm.DB, dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = db
	}
	return t.WithContext(dbc.Ctx)
}

func scanIDs(q *gorm.DB) ([]uuid.UUID, error) {
	var raw []string
	if err := q.Scan(&raw).Error; err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			// A malformed stored id is corruption, not noise.
			return nil, fmt.Errorf("malformed zone id %q: %w", s, err)
		}
		out = append(out, id)
	}
	return out, nil
}
