package zones

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/domain/resolution"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// Tally reports the outcome of a bulk write: row failures are counted, not
// propagated, so one bad candidate never sinks the batch.
type Tally struct {
	Succeeded int
	Failed    int
}

// ListOptions narrows GetByScope reads.
type ListOptions struct {
	Categories  []domain.Category
	States      []resolution.State
	OnlyCurrent bool
	OnlyReady   bool
}

type ClashZoneRepo interface {
	Upsert(dbc dbctx.Context, zone *domain.ClashZone) (uuid.UUID, error)
	BulkUpsert(dbc dbctx.Context, zones []*domain.ClashZone) (Tally, error)
	GetByScope(dbc dbctx.Context, scopeID uuid.UUID, opts ListOptions) ([]*domain.ClashZone, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.ClashZone, error)
	SetParameterSnapshot(dbc dbctx.Context, zoneID uuid.UUID, side domain.SnapshotSide, values map[string]string) error
	// ApplyTransition loads the zone's current flags and applies the update
	// set the builder produces, in one atomic read-modify-write.
	ApplyTransition(dbc dbctx.Context, zoneID uuid.UUID, build func(resolution.Flags) (resolution.Updates, error)) error
	// ResetResolution clears all resolution flags and references on the given
	// zones in a single statement.
	ResetResolution(dbc dbctx.Context, zoneIDs []uuid.UUID) error
}

type clashZoneRepo struct {
	db        *gorm.DB
	log       *logger.Logger
	chunkSize int
}

func NewClashZoneRepo(db *gorm.DB, baseLog *logger.Logger, chunkSize int) ClashZoneRepo {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &clashZoneRepo{
		db:        db,
		log:       baseLog.With("repo", "ClashZoneRepo"),
		chunkSize: chunkSize,
	}
}

func (r *clashZoneRepo) base(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

// Non-key attributes refreshed on re-detection. Resolution and session flags
// are deliberately absent: re-detecting an unchanged clash must not disturb
// its lifecycle, and parameter snapshots have their own write path.
var upsertColumns = []string{
	"category",
	"point_x", "point_y", "point_z",
	"min_x", "min_y", "min_z", "max_x", "max_y", "max_z",
	"orient_x", "orient_y", "orient_z",
	"rot_sin", "rot_cos",
	"oriented_box", "host_box", "corners",
	"updated_at",
}

func (r *clashZoneRepo) Upsert(dbc dbctx.Context, zone *domain.ClashZone) (uuid.UUID, error) {
	const op = "zone.upsert"
	if err := validateZone(zone); err != nil {
		return uuid.Nil, err
	}
	zone.UpdatedAt = time.Now().UTC()
	err := r.base(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(upsertColumns),
		}).
		Create(zone).Error
	if err != nil {
		return uuid.Nil, faults.MapError(op, err)
	}
	return zone.ID, nil
}

// BulkUpsert stages rows into chunked multi-row merges. A failed chunk is
// replayed row-by-row so individual failures can be attributed and counted
// without aborting the rest of the batch.
func (r *clashZoneRepo) BulkUpsert(dbc dbctx.Context, zonesIn []*domain.ClashZone) (Tally, error) {
	const op = "zone.bulk_upsert"
	var tally Tally
	if len(zonesIn) == 0 {
		return tally, nil
	}

	now := time.Now().UTC()
	valid := make([]*domain.ClashZone, 0, len(zonesIn))
	for _, z := range zonesIn {
		if err := validateZone(z); err != nil {
			tally.Failed++
			r.log.Warn("Rejected candidate in bulk upsert", "error", err)
			continue
		}
		z.UpdatedAt = now
		valid = append(valid, z)
	}

	db := r.base(dbc)
	for start := 0; start < len(valid); start += r.chunkSize {
		end := start + r.chunkSize
		if end > len(valid) {
			end = len(valid)
		}
		chunk := valid[start:end]
		err := db.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns(upsertColumns),
			}).
			Create(&chunk).Error
		if err == nil {
			tally.Succeeded += len(chunk)
			continue
		}
		// Replay the chunk one row at a time to isolate the bad rows.
		r.log.Warn("Chunk merge failed, replaying row by row", "rows", len(chunk), "error", err)
		for _, z := range chunk {
			if _, rowErr := r.Upsert(dbc, z); rowErr != nil {
				tally.Failed++
				r.log.Warn("Row write failed in bulk upsert",
					"zone_id", z.ID,
					"error", faults.Wrap(faults.CodeRowWrite, op, rowErr))
				continue
			}
			tally.Succeeded++
		}
	}
	return tally, nil
}

func (r *clashZoneRepo) GetByScope(dbc dbctx.Context, scopeID uuid.UUID, opts ListOptions) ([]*domain.ClashZone, error) {
	const op = "zone.get_by_scope"
	if scopeID == uuid.Nil {
		return nil, faults.New(faults.CodeValidation, op, "scope id is required", nil)
	}
	q := r.base(dbc).Where("scope_id = ?", scopeID)
	if len(opts.Categories) > 0 {
		q = q.Where("category IN ?", opts.Categories)
	}
	if len(opts.States) > 0 {
		states := make([]int, 0, len(opts.States))
		for _, s := range opts.States {
			states = append(states, int(s))
		}
		q = q.Where("state IN ?", states)
	}
	if opts.OnlyCurrent {
		q = q.Where("is_current = ?", true)
	}
	if opts.OnlyReady {
		q = q.Where("is_ready = ?", true)
	}
	var out []*domain.ClashZone
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, faults.MapError(op, err)
	}
	return out, nil
}

func (r *clashZoneRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.ClashZone, error) {
	const op = "zone.get_by_ids"
	var out []*domain.ClashZone
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.base(dbc).Where("id IN ?", ids).Order("id").Find(&out).Error; err != nil {
		return nil, faults.MapError(op, err)
	}
	return out, nil
}

func (r *clashZoneRepo) SetParameterSnapshot(dbc dbctx.Context, zoneID uuid.UUID, side domain.SnapshotSide, values map[string]string) error {
	const op = "zone.set_snapshot"
	if zoneID == uuid.Nil {
		return faults.New(faults.CodeValidation, op, "zone id is required", nil)
	}
	if !side.Valid() {
		return faults.New(faults.CodeValidation, op, "unknown snapshot side "+string(side), nil)
	}
	blob, err := domain.ToJSON(values)
	if err != nil {
		return faults.New(faults.CodeValidation, op, "encode snapshot", err)
	}
	col := "moving_snapshot"
	if side == domain.SnapshotFixed {
		col = "fixed_snapshot"
	}
	res := r.base(dbc).Model(&domain.ClashZone{}).
		Where("id = ?", zoneID).
		Updates(map[string]any{col: blob, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return faults.MapError(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return faults.New(faults.CodeNotFound, op, "zone "+zoneID.String(), nil)
	}
	return nil
}

func (r *clashZoneRepo) ApplyTransition(dbc dbctx.Context, zoneID uuid.UUID, build func(resolution.Flags) (resolution.Updates, error)) error {
	const op = "zone.transition"
	if zoneID == uuid.Nil {
		return faults.New(faults.CodeValidation, op, "zone id is required", nil)
	}
	run := func(tx *gorm.DB) error {
		var row domain.ClashZone
		if err := tx.Where("id = ?", zoneID).Limit(1).Find(&row).Error; err != nil {
			return faults.MapError(op, err)
		}
		if row.ID == uuid.Nil {
			return faults.New(faults.CodeNotFound, op, "zone "+zoneID.String(), nil)
		}
		updates, err := build(row.Flags())
		if err != nil {
			return faults.New(faults.CodeValidation, op, err.Error(), err)
		}
		updates["updated_at"] = time.Now().UTC()
		if err := tx.Model(&domain.ClashZone{}).Where("id = ?", zoneID).Updates(map[string]any(updates)).Error; err != nil {
			return faults.MapError(op, err)
		}
		return nil
	}
	if dbc.Tx != nil {
		return run(dbc.Tx.WithContext(dbc.Ctx))
	}
	return r.db.WithContext(dbc.Ctx).Transaction(run)
}

func (r *clashZoneRepo) ResetResolution(dbc dbctx.Context, zoneIDs []uuid.UUID) error {
	const op = "zone.reset_resolution"
	if len(zoneIDs) == 0 {
		return nil
	}
	updates := map[string]any(resolution.Reset())
	updates["updated_at"] = time.Now().UTC()
	err := r.base(dbc).Model(&domain.ClashZone{}).
		Where("id IN ?", zoneIDs).
		Updates(updates).Error
	if err != nil {
		return faults.MapError(op, err)
	}
	return nil
}

func validateZone(z *domain.ClashZone) error {
	const op = "zone.validate"
	switch {
	case z == nil:
		return faults.New(faults.CodeValidation, op, "zone is required", nil)
	case z.ID == uuid.Nil:
		return faults.New(faults.CodeValidation, op, "zone id is required", nil)
	case z.ScopeID == uuid.Nil:
		return faults.New(faults.CodeValidation, op, "scope id is required", nil)
	case !z.Category.Valid():
		return faults.New(faults.CodeValidation, op, "unknown category "+string(z.Category), nil)
	case z.PointKey == "":
		return faults.New(faults.CodeValidation, op, "point key is required", nil)
	}
	return nil
}
