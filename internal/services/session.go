package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/jseaddons/clashcore/internal/data/aggregates"
	"github.com/jseaddons/clashcore/internal/data/repos/spatial"
	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/domain/resolution"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// Selection narrows a session to a category subset. Empty means every
// category in the scope.
type Selection struct {
	Categories []domain.Category
}

// SessionStats reports how many zones each phase touched.
type SessionStats struct {
	Current int
	Ready   int
}

// SessionService recomputes the transient current/ready flags once at the
// start of each interactive session. The algorithm is replace-not-merge:
// running it twice with the same inputs converges to the same flag state, and
// there is no timestamp bookkeeping to drift across sessions.
type SessionService struct {
	tx      aggregates.TxRunner
	spatial spatial.Strategy
	log     *logger.Logger
}

func NewSessionService(tx aggregates.TxRunner, spatialIdx spatial.Strategy, baseLog *logger.Logger) *SessionService {
	return &SessionService{
		tx:      tx,
		spatial: spatialIdx,
		log:     baseLog.With("service", "SessionService"),
	}
}

// Recompute runs the three phases in one transaction: reset every session
// flag in the scope, mark current for zones matching the selection inside the
// region, then mark ready for current zones still unresolved.
func (s *SessionService) Recompute(ctx context.Context, scopeID uuid.UUID, sel Selection, region domain.Box) (SessionStats, error) {
	const op = "session.recompute"
	var stats SessionStats
	if scopeID == uuid.Nil {
		return stats, faults.New(faults.CodeValidation, op, "scope id is required", nil)
	}
	if !region.Valid() {
		return stats, faults.New(faults.CodeValidation, op, "session region box is invalid", nil)
	}

	err := s.tx.InTx(ctx, func(dbc dbctx.Context) error {
		// Phase 1: reset.
		err := dbc.Tx.Model(&domain.ClashZone{}).
			Where("scope_id = ?", scopeID).
			Updates(map[string]any{"is_current": false, "is_ready": false}).Error
		if err != nil {
			return faults.MapError(op, err)
		}

		// Phase 2: mark current.
		inRegion, err := s.spatial.QueryRegion(dbc, region)
		if err != nil {
			return err
		}
		if len(inRegion) > 0 {
			q := dbc.Tx.Model(&domain.ClashZone{}).
				Where("scope_id = ? AND id IN ?", scopeID, inRegion)
			if len(sel.Categories) > 0 {
				q = q.Where("category IN ?", sel.Categories)
			}
			res := q.Updates(map[string]any{"is_current": true})
			if res.Error != nil {
				return faults.MapError(op, res.Error)
			}
			stats.Current = int(res.RowsAffected)
		}

		// Phase 3: mark ready.
		res := dbc.Tx.Model(&domain.ClashZone{}).
			Where("scope_id = ? AND is_current = ? AND state = ?", scopeID, true, int(resolution.Unresolved)).
			Updates(map[string]any{"is_ready": true})
		if res.Error != nil {
			return faults.MapError(op, res.Error)
		}
		stats.Ready = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return SessionStats{}, err
	}
	s.log.Info("Session context recomputed",
		"scope_id", scopeID, "current", stats.Current, "ready", stats.Ready)
	return stats, nil
}
