package spatial

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// linearStrategy is the degraded path for sqlite builds without the rtree
// module: every region query is a full scan of the canonical box columns with
// the same validity and containment predicates the index path uses.
type linearStrategy struct {
	db  *gorm.DB
	log *logger.Logger
}

func (s *linearStrategy) Name() string { return "linear" }

// Rebuild is a no-op: the canonical columns are the index.
func (s *linearStrategy) Rebuild(dbc dbctx.Context) error { return nil }

// VerifyConsistency always holds: there is no mirror to drift.
func (s *linearStrategy) VerifyConsistency(dbc dbctx.Context) (bool, error) {
	return true, nil
}

func (s *linearStrategy) QueryRegion(dbc dbctx.Context, region domain.Box) ([]uuid.UUID, error) {
	const op = "spatial.query"
	args := regionArgs(region)
	q := base(s.db, dbc).Raw(`SELECT id FROM clash_zone
		WHERE `+validBoxSQL+` AND `+intersectsSQL+`
		ORDER BY id`, args...)
	ids, err := scanIDs(q)
	if err != nil {
		return nil, faults.MapError(op, err)
	}
	return ids, nil
}

// RefreshZones is a no-op: reads always see the canonical columns.
func (s *linearStrategy) RefreshZones(dbc dbctx.Context, ids []uuid.UUID) error { return nil }
