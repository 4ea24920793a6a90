package services

import (
	"context"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jseaddons/clashcore/internal/data/repos/spatial"
	"github.com/jseaddons/clashcore/internal/data/repos/zones"
	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// Candidate is what the external detection engine reports for one
// intersection. Geometry is taken as given; this service only derives
// identity and persists.
type Candidate struct {
	MovingRef   int64
	FixedRef    int64
	Point       domain.Point
	Box         domain.Box
	OrientedBox *domain.OrientedBox
	HostBox     *domain.HostRelativeBox
	Category    domain.Category
	Orientation domain.Vector
	RotSin      float64
	RotCos      float64
	// Opaque parameter snapshots captured at detection time; may be nil.
	MovingParams map[string]string
	FixedParams  map[string]string
}

// DetectionService is the write path for the detection collaborator: candidate
// upserts and invalidation resets.
type DetectionService struct {
	zones     zones.ClashZoneRepo
	spatial   spatial.Strategy
	log       *logger.Logger
	tolerance float64
}

func NewDetectionService(zoneRepo zones.ClashZoneRepo, spatialIdx spatial.Strategy, baseLog *logger.Logger, pointTolerance float64) *DetectionService {
	if pointTolerance <= 0 {
		pointTolerance = 1e-3
	}
	return &DetectionService{
		zones:     zoneRepo,
		spatial:   spatialIdx,
		log:       baseLog.With("service", "DetectionService"),
		tolerance: pointTolerance,
	}
}

// ReportCandidates normalizes a detection batch and upserts it. Re-detecting
// an unchanged clash reproduces the same zone id, so refresh cycles never
// duplicate rows. Returns a per-row tally; row failures never abort the batch.
func (s *DetectionService) ReportCandidates(ctx context.Context, scopeID uuid.UUID, candidates []Candidate) (zones.Tally, error) {
	const op = "detection.report_candidates"
	var tally zones.Tally
	if scopeID == uuid.Nil {
		return tally, faults.New(faults.CodeValidation, op, "scope id is required", nil)
	}
	if len(candidates) == 0 {
		return tally, nil
	}

	// Normalization is pure per-candidate work; fan it out.
	staged := make([]*domain.ClashZone, len(candidates))
	errs := make([]error, len(candidates))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range candidates {
		i := i
		g.Go(func() error {
			staged[i], errs[i] = s.normalize(scopeID, candidates[i])
			return nil
		})
	}
	_ = g.Wait()

	valid := make([]*domain.ClashZone, 0, len(candidates))
	params := make(map[uuid.UUID]Candidate, len(candidates))
	for i, z := range staged {
		if errs[i] != nil {
			tally.Failed++
			s.log.Warn("Rejected detection candidate", "error", errs[i])
			continue
		}
		valid = append(valid, z)
		if candidates[i].MovingParams != nil || candidates[i].FixedParams != nil {
			params[z.ID] = candidates[i]
		}
	}

	dbc := dbctx.Context{Ctx: ctx}
	bulk, err := s.zones.BulkUpsert(dbc, valid)
	tally.Succeeded += bulk.Succeeded
	tally.Failed += bulk.Failed
	if err != nil {
		return tally, err
	}

	// Snapshot refresh rides the same detection pass but stays on its own
	// write path so a pass without snapshots leaves earlier blobs alone.
	for id, cand := range params {
		if cand.MovingParams != nil {
			if err := s.zones.SetParameterSnapshot(dbc, id, domain.SnapshotMoving, cand.MovingParams); err != nil {
				s.log.Warn("Snapshot write failed", "zone_id", id, "side", "moving", "error", err)
			}
		}
		if cand.FixedParams != nil {
			if err := s.zones.SetParameterSnapshot(dbc, id, domain.SnapshotFixed, cand.FixedParams); err != nil {
				s.log.Warn("Snapshot write failed", "zone_id", id, "side", "fixed", "error", err)
			}
		}
	}

	ids := make([]uuid.UUID, 0, len(valid))
	for _, z := range valid {
		ids = append(ids, z.ID)
	}
	if err := s.spatial.RefreshZones(dbc, ids); err != nil {
		return tally, err
	}
	s.log.Info("Detection batch processed",
		"scope_id", scopeID, "succeeded", tally.Succeeded, "failed", tally.Failed)
	return tally, nil
}

// ReportInvalidated resets zones whose upstream geometry disappeared in a
// later pass. All resolution flags and references are cleared atomically;
// aggregate membership rows are left in place (the membership audit surfaces
// the desync).
func (s *DetectionService) ReportInvalidated(ctx context.Context, zoneIDs []uuid.UUID) error {
	if len(zoneIDs) == 0 {
		return nil
	}
	if err := s.zones.ResetResolution(dbctx.Context{Ctx: ctx}, zoneIDs); err != nil {
		return err
	}
	s.log.Info("Zones invalidated", "count", len(zoneIDs))
	return nil
}

func (s *DetectionService) normalize(scopeID uuid.UUID, c Candidate) (*domain.ClashZone, error) {
	const op = "detection.normalize"
	if !c.Category.Valid() {
		return nil, faults.New(faults.CodeValidation, op, "unknown category "+string(c.Category), nil)
	}
	z := &domain.ClashZone{
		ID:               domain.NewZoneID(scopeID, c.MovingRef, c.FixedRef, c.Point, s.tolerance),
		ScopeID:          scopeID,
		MovingElementRef: c.MovingRef,
		FixedElementRef:  c.FixedRef,
		PointKey:         c.Point.QuantizedKey(s.tolerance),
		Category:         c.Category,
		PointX:           c.Point.X,
		PointY:           c.Point.Y,
		PointZ:           c.Point.Z,
		OrientX:          c.Orientation.X,
		OrientY:          c.Orientation.Y,
		OrientZ:          c.Orientation.Z,
		RotSin:           c.RotSin,
		RotCos:           c.RotCos,
	}
	if z.RotSin == 0 && z.RotCos == 0 {
		z.RotCos = 1
	}
	z.SetBox(c.Box)

	corners, err := domain.ToJSON(c.Box.Corners())
	if err != nil {
		return nil, faults.New(faults.CodeInternal, op, "encode corners", err)
	}
	z.Corners = corners
	if c.OrientedBox != nil {
		if z.OrientedBox, err = domain.ToJSON(c.OrientedBox); err != nil {
			return nil, faults.New(faults.CodeInternal, op, "encode oriented box", err)
		}
	}
	if c.HostBox != nil {
		if z.HostBox, err = domain.ToJSON(c.HostBox); err != nil {
			return nil, faults.New(faults.CodeInternal, op, "encode host box", err)
		}
	}
	return z, nil
}
