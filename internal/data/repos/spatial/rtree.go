package spatial

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

const rtreeTable = "clash_zone_rtree"

// rtreeStrategy mirrors valid zone boxes into an rtree virtual table keyed by
// the zone row's sqlite rowid (rtree keys must be integers; zone UUIDs are
// joined back on query).
type rtreeStrategy struct {
	db  *gorm.DB
	log *logger.Logger
}

func (s *rtreeStrategy) Name() string { return "rtree" }

func (s *rtreeStrategy) ensureTable(db *gorm.DB) error {
	return db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS ` + rtreeTable +
		` USING rtree(id, min_x, max_x, min_y, max_y, min_z, max_z)`).Error
}

func (s *rtreeStrategy) Rebuild(dbc dbctx.Context) error {
	const op = "spatial.rebuild"
	run := func(tx *gorm.DB) error {
		if err := s.ensureTable(tx); err != nil {
			return faults.New(faults.CodeCapabilityUnavailable, op, "create rtree table", err)
		}
		if err := tx.Exec(`DELETE FROM ` + rtreeTable).Error; err != nil {
			return faults.MapError(op, err)
		}
		err := tx.Exec(`INSERT INTO ` + rtreeTable + `(id, min_x, max_x, min_y, max_y, min_z, max_z)
			SELECT rowid, min_x, max_x, min_y, max_y, min_z, max_z FROM clash_zone WHERE ` + validBoxSQL).Error
		if err != nil {
			return faults.MapError(op, err)
		}
		return nil
	}
	var err error
	if dbc.Tx != nil {
		err = run(dbc.Tx.WithContext(dbc.Ctx))
	} else {
		err = s.db.WithContext(dbc.Ctx).Transaction(run)
	}
	if err != nil {
		return err
	}
	s.log.Info("Spatial index rebuilt")
	return nil
}

func (s *rtreeStrategy) VerifyConsistency(dbc dbctx.Context) (bool, error) {
	const op = "spatial.verify"
	db := base(s.db, dbc)
	if err := s.ensureTable(db); err != nil {
		return false, faults.New(faults.CodeCapabilityUnavailable, op, "create rtree table", err)
	}
	var indexCount, zoneCount int64
	if err := db.Raw(`SELECT count(*) FROM ` + rtreeTable).Scan(&indexCount).Error; err != nil {
		return false, faults.MapError(op, err)
	}
	if err := db.Raw(`SELECT count(*) FROM clash_zone WHERE ` + validBoxSQL).Scan(&zoneCount).Error; err != nil {
		return false, faults.MapError(op, err)
	}
	if indexCount == zoneCount {
		return true, nil
	}
	// Correctness over incremental patching: a mismatch means the mirror can
	// no longer be trusted, so rebuild the whole thing.
	s.log.Warn("Spatial index inconsistent, rebuilding",
		"index_rows", indexCount, "zone_rows", zoneCount,
		"code", string(faults.CodeConsistency))
	if err := s.Rebuild(dbc); err != nil {
		return false, err
	}
	return false, nil
}

// The rtree stores single-precision floats (mins rounded down, maxs rounded
// up), so its hits are a superset of the exact answer. The join re-applies
// the exact float64 predicate on the canonical zone columns, keeping the
// result set identical to the linear path's.
func (s *rtreeStrategy) QueryRegion(dbc dbctx.Context, region domain.Box) ([]uuid.UUID, error) {
	const op = "spatial.query"
	args := append(regionArgs(region), regionArgs(region)...)
	q := base(s.db, dbc).Raw(`SELECT z.id FROM clash_zone z
		JOIN `+rtreeTable+` r ON r.id = z.rowid
		WHERE r.`+rtreeIntersectsSQL+`
		AND z.`+zoneIntersectsSQL+`
		ORDER BY z.id`, args...)
	ids, err := scanIDs(q)
	if err != nil {
		return nil, faults.MapError(op, err)
	}
	return ids, nil
}

// Same predicate as intersectsSQL, with the column references qualified for
// the rtree join alias and the zone alias respectively.
const rtreeIntersectsSQL = `min_x <= ? AND r.max_x >= ? AND r.min_y <= ? AND r.max_y >= ? AND r.min_z <= ? AND r.max_z >= ?`
const zoneIntersectsSQL = `min_x <= ? AND z.max_x >= ? AND z.min_y <= ? AND z.max_y >= ? AND z.min_z <= ? AND z.max_z >= ?`

func (s *rtreeStrategy) RefreshZones(dbc dbctx.Context, ids []uuid.UUID) error {
	const op = "spatial.refresh"
	if len(ids) == 0 {
		return nil
	}
	db := base(s.db, dbc)
	if err := s.ensureTable(db); err != nil {
		return faults.New(faults.CodeCapabilityUnavailable, op, "create rtree table", err)
	}
	// Drop mirror rows for zones whose box went invalid, then re-mirror the
	// valid ones. INSERT OR REPLACE keys on the rtree id (the zone rowid).
	err := db.Exec(`DELETE FROM `+rtreeTable+` WHERE id IN
		(SELECT rowid FROM clash_zone WHERE id IN ? AND NOT (`+validBoxSQL+`))`, ids).Error
	if err != nil {
		return faults.MapError(op, err)
	}
	err = db.Exec(`INSERT OR REPLACE INTO `+rtreeTable+`(id, min_x, max_x, min_y, max_y, min_z, max_z)
		SELECT rowid, min_x, max_x, min_y, max_y, min_z, max_z FROM clash_zone
		WHERE id IN ? AND `+validBoxSQL, ids).Error
	if err != nil {
		return faults.MapError(op, err)
	}
	return nil
}
