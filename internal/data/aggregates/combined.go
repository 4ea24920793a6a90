package aggregates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/jseaddons/clashcore/internal/data/repos/zones"
	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/domain/resolution"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// Constituent references exactly one of an individual zone or a whole
// cluster. Both set or both nil is a consistency violation and is rejected
// before anything is written.
type Constituent struct {
	ZoneID    *uuid.UUID
	ClusterID *uuid.UUID
}

// Valid reports whether exactly one reference is set.
func (c Constituent) Valid() bool {
	return (c.ZoneID != nil) != (c.ClusterID != nil)
}

// CombinedBuilder persists a cross-category grouping of zones and/or clusters
// and sets the combined flag on every referenced zone, directly or
// transitively through a referenced cluster's member list.
type CombinedBuilder struct {
	tx    TxRunner
	zones zones.ClashZoneRepo
	log   *logger.Logger
}

func NewCombinedBuilder(tx TxRunner, zoneRepo zones.ClashZoneRepo, baseLog *logger.Logger) *CombinedBuilder {
	return &CombinedBuilder{
		tx:    tx,
		zones: zoneRepo,
		log:   baseLog.With("builder", "CombinedBuilder"),
	}
}

func (b *CombinedBuilder) Build(ctx context.Context, scopeID uuid.UUID, constituents []Constituent) (*domain.CombinedAggregate, error) {
	const op = "combined.build"
	if scopeID == uuid.Nil {
		return nil, faults.New(faults.CodeValidation, op, "scope id is required", nil)
	}
	if len(constituents) == 0 {
		return nil, faults.New(faults.CodeValidation, op, "at least one constituent is required", nil)
	}

	refIDs := make([]uuid.UUID, 0, len(constituents))
	zoneIDs := make([]uuid.UUID, 0, len(constituents))
	clusterIDs := make([]uuid.UUID, 0, len(constituents))
	for _, c := range constituents {
		if !c.Valid() {
			return nil, faults.New(faults.CodeConsistency, op,
				"constituent must reference exactly one of zone or cluster", nil)
		}
		if c.ZoneID != nil {
			refIDs = append(refIDs, *c.ZoneID)
			zoneIDs = append(zoneIDs, *c.ZoneID)
		} else {
			refIDs = append(refIDs, *c.ClusterID)
			clusterIDs = append(clusterIDs, *c.ClusterID)
		}
	}

	var agg *domain.CombinedAggregate
	err := b.tx.InTx(ctx, func(dbc dbctx.Context) error {
		var box domain.Box

		directZones, err := b.zones.GetByIDs(dbc, zoneIDs)
		if err != nil {
			return err
		}
		if len(directZones) != len(zoneIDs) {
			return faults.New(faults.CodeNotFound, op, "one or more constituent zones missing", nil)
		}
		for _, z := range directZones {
			if z.ScopeID != scopeID {
				return faults.New(faults.CodeValidation, op, "constituent zone outside scope: "+z.ID.String(), nil)
			}
			box = box.Union(z.Box())
		}

		var clusters []*domain.ClusterAggregate
		if len(clusterIDs) > 0 {
			if err := dbc.Tx.Where("id IN ?", clusterIDs).Find(&clusters).Error; err != nil {
				return faults.MapError(op, err)
			}
			if len(clusters) != len(clusterIDs) {
				return faults.New(faults.CodeNotFound, op, "one or more constituent clusters missing", nil)
			}
		}
		memberZoneIDs := make([]uuid.UUID, 0)
		for _, c := range clusters {
			if c.ScopeID != scopeID {
				return faults.New(faults.CodeValidation, op, "constituent cluster outside scope: "+c.ID.String(), nil)
			}
			box = box.Union(c.Box())
			var members []*domain.ClusterMember
			if err := dbc.Tx.Where("cluster_id = ?", c.ID).Find(&members).Error; err != nil {
				return faults.MapError(op, err)
			}
			for _, m := range members {
				memberZoneIDs = append(memberZoneIDs, m.ZoneID)
			}
		}

		corners, err := domain.ToJSON(box.Corners())
		if err != nil {
			return faults.New(faults.CodeInternal, op, "encode corners", err)
		}
		center := box.Center()
		now := time.Now().UTC()
		agg = &domain.CombinedAggregate{
			ID:         domain.NewCombinedID(scopeID, refIDs),
			ScopeID:    scopeID,
			RotCos:     1,
			PlacementX: center.X,
			PlacementY: center.Y,
			PlacementZ: center.Z,
			Corners:    corners,
			UpdatedAt:  now,
		}
		agg.SetBox(box)

		err = dbc.Tx.
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"min_x", "min_y", "min_z", "max_x", "max_y", "max_z",
					"rot_sin", "rot_cos",
					"placement_x", "placement_y", "placement_z",
					"corners", "updated_at",
				}),
			}).
			Create(agg).Error
		if err != nil {
			return faults.MapError(op, err)
		}

		rows := make([]*domain.CombinedConstituent, 0, len(constituents))
		for _, c := range constituents {
			rows = append(rows, &domain.CombinedConstituent{
				ID:         uuid.New(),
				CombinedID: agg.ID,
				ZoneID:     c.ZoneID,
				ClusterID:  c.ClusterID,
				CreatedAt:  now,
			})
		}
		err = dbc.Tx.
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&rows).Error
		if err != nil {
			return faults.MapError(op, err)
		}

		// Combined flag fan-out: direct zones plus every member of every
		// referenced cluster, all in this transaction.
		flagged := make(map[uuid.UUID]bool, len(directZones)+len(memberZoneIDs))
		for _, z := range directZones {
			flagged[z.ID] = true
		}
		for _, id := range memberZoneIDs {
			flagged[id] = true
		}
		for id := range flagged {
			err := b.zones.ApplyTransition(dbc, id, func(cur resolution.Flags) (resolution.Updates, error) {
				return resolution.MarkCombined(cur, agg.ID)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	b.log.Info("Combined aggregate built",
		"combined_id", agg.ID, "scope_id", scopeID, "constituents", len(constituents))
	return agg, nil
}
