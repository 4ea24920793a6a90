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

// ClusterBuilder persists a same-category grouping of zones and performs the
// member flag fan-out atomically. Which zones belong together is decided by
// the external geometric collaborator; this component only records the result.
type ClusterBuilder struct {
	tx    TxRunner
	zones zones.ClashZoneRepo
	log   *logger.Logger
}

func NewClusterBuilder(tx TxRunner, zoneRepo zones.ClashZoneRepo, baseLog *logger.Logger) *ClusterBuilder {
	return &ClusterBuilder{
		tx:    tx,
		zones: zoneRepo,
		log:   baseLog.With("builder", "ClusterBuilder"),
	}
}

// Build persists the aggregate row, its membership rows, and every member
// zone's cluster flag in one transaction. Partial fan-out is not an
// acceptable outcome: any member failure rolls back the whole operation.
func (b *ClusterBuilder) Build(ctx context.Context, scopeID uuid.UUID, zoneIDs []uuid.UUID) (*domain.ClusterAggregate, error) {
	const op = "cluster.build"
	if scopeID == uuid.Nil {
		return nil, faults.New(faults.CodeValidation, op, "scope id is required", nil)
	}
	if len(zoneIDs) == 0 {
		return nil, faults.New(faults.CodeValidation, op, "at least one member zone is required", nil)
	}

	var agg *domain.ClusterAggregate
	err := b.tx.InTx(ctx, func(dbc dbctx.Context) error {
		members, err := b.zones.GetByIDs(dbc, zoneIDs)
		if err != nil {
			return err
		}
		if len(members) != len(zoneIDs) {
			return faults.New(faults.CodeNotFound, op, "one or more member zones missing", nil)
		}

		category := members[0].Category
		var box domain.Box
		for _, z := range members {
			if z.ScopeID != scopeID {
				return faults.New(faults.CodeValidation, op, "member zone outside scope: "+z.ID.String(), nil)
			}
			if z.Category != category {
				return faults.New(faults.CodeValidation, op, "cluster members must share a category", nil)
			}
			box = box.Union(z.Box())
		}

		corners, err := domain.ToJSON(box.Corners())
		if err != nil {
			return faults.New(faults.CodeInternal, op, "encode corners", err)
		}
		center := box.Center()
		now := time.Now().UTC()
		agg = &domain.ClusterAggregate{
			ID:          domain.NewClusterID(scopeID, zoneIDs),
			ScopeID:     scopeID,
			Category:    category,
			RotCos:      1,
			PlacementX:  center.X,
			PlacementY:  center.Y,
			PlacementZ:  center.Z,
			Corners:     corners,
			MemberCount: len(members),
			UpdatedAt:   now,
		}
		agg.SetBox(box)

		err = dbc.Tx.
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"min_x", "min_y", "min_z", "max_x", "max_y", "max_z",
					"rot_sin", "rot_cos",
					"placement_x", "placement_y", "placement_z",
					"corners", "member_count", "updated_at",
				}),
			}).
			Create(agg).Error
		if err != nil {
			return faults.MapError(op, err)
		}

		rows := make([]*domain.ClusterMember, 0, len(members))
		for _, z := range members {
			rows = append(rows, &domain.ClusterMember{
				ID:        uuid.New(),
				ClusterID: agg.ID,
				ZoneID:    z.ID,
				CreatedAt: now,
			})
		}
		err = dbc.Tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "cluster_id"}, {Name: "zone_id"}},
				DoNothing: true,
			}).
			Create(&rows).Error
		if err != nil {
			return faults.MapError(op, err)
		}

		// Flag fan-out, inside the same transaction.
		for _, z := range members {
			err := b.zones.ApplyTransition(dbc, z.ID, func(cur resolution.Flags) (resolution.Updates, error) {
				return resolution.MarkClustered(cur, agg.ID)
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
	b.log.Info("Cluster built", "cluster_id", agg.ID, "scope_id", scopeID, "members", len(zoneIDs))
	return agg, nil
}

// VerifyMembership audits a cluster for dangling members: membership rows
// whose zone no longer carries the cluster flag pointing back at this
// aggregate. Invalidation leaves membership rows in place deliberately; this
// surfaces the desync instead of hiding it.
func (b *ClusterBuilder) VerifyMembership(dbc dbctx.Context, clusterID uuid.UUID) ([]uuid.UUID, error) {
	const op = "cluster.verify_membership"
	if clusterID == uuid.Nil {
		return nil, faults.New(faults.CodeValidation, op, "cluster id is required", nil)
	}
	if dbc.Tx == nil {
		return nil, faults.New(faults.CodeValidation, op, "transaction context is required", nil)
	}
	var raw []string
	err := dbc.Tx.WithContext(dbc.Ctx).Raw(`
		SELECT m.zone_id FROM cluster_member m
		JOIN clash_zone z ON z.id = m.zone_id
		WHERE m.cluster_id = ?
		  AND (z.cluster_resolved = ? OR z.cluster_id IS NULL OR z.cluster_id <> m.cluster_id)
		ORDER BY m.zone_id`, clusterID, false).Scan(&raw).Error
	if err != nil {
		return nil, faults.MapError(op, err)
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, parseErr := uuid.Parse(s)
		if parseErr != nil {
			continue
		}
		out = append(out, id)
	}
	if len(out) > 0 {
		b.log.Warn("Cluster has dangling members",
			"cluster_id", clusterID, "dangling", len(out),
			"code", string(faults.CodeConsistency))
	}
	return out, nil
}
