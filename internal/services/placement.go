package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/jseaddons/clashcore/internal/data/repos/zones"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/domain/resolution"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// PlacementService is the write path for the placement collaborator: it
// records that a sleeve was placed for a zone.
type PlacementService struct {
	zones zones.ClashZoneRepo
	log   *logger.Logger
}

func NewPlacementService(zoneRepo zones.ClashZoneRepo, baseLog *logger.Logger) *PlacementService {
	return &PlacementService{
		zones: zoneRepo,
		log:   baseLog.With("service", "PlacementService"),
	}
}

// ReportPlaced transitions an unresolved zone to individually resolved,
// holding the placed element reference.
func (s *PlacementService) ReportPlaced(ctx context.Context, zoneID uuid.UUID, placedRef int64) error {
	const op = "placement.report_placed"
	if placedRef == 0 {
		return faults.New(faults.CodeValidation, op, "placed element ref is required", nil)
	}
	err := s.zones.ApplyTransition(dbctx.Context{Ctx: ctx}, zoneID, func(cur resolution.Flags) (resolution.Updates, error) {
		return resolution.MarkPlaced(cur, placedRef)
	})
	if err != nil {
		return err
	}
	s.log.Info("Zone individually resolved", "zone_id", zoneID, "placed_ref", placedRef)
	return nil
}
