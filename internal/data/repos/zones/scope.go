package zones

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

type ScopeRepo interface {
	Ensure(dbc dbctx.Context, scope *domain.Scope) (*domain.Scope, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Scope, error)
	// Reset deletes every record in the scope. This is the only delete path
	// for zones; everything else only flips flags.
	Reset(dbc dbctx.Context, id uuid.UUID) error
}

type scopeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewScopeRepo(db *gorm.DB, baseLog *logger.Logger) ScopeRepo {
	return &scopeRepo{db: db, log: baseLog.With("repo", "ScopeRepo")}
}

func (r *scopeRepo) base(dbc dbctx.Context) *gorm.DB {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	return t.WithContext(dbc.Ctx)
}

func (r *scopeRepo) Ensure(dbc dbctx.Context, scope *domain.Scope) (*domain.Scope, error) {
	const op = "scope.ensure"
	if scope == nil {
		return nil, faults.New(faults.CodeValidation, op, "scope is required", nil)
	}
	if !scope.Category.Valid() {
		return nil, faults.New(faults.CodeValidation, op, "unknown category "+string(scope.Category), nil)
	}
	if scope.ID == uuid.Nil {
		scope.ID = domain.NewScopeID(scope.FilterName, scope.Category, scope.SourceModelKey, scope.TargetModelKey)
	}
	scope.UpdatedAt = time.Now().UTC()
	err := r.base(dbc).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"updated_at"}),
		}).
		Create(scope).Error
	if err != nil {
		return nil, faults.MapError(op, err)
	}
	return scope, nil
}

func (r *scopeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Scope, error) {
	const op = "scope.get"
	if id == uuid.Nil {
		return nil, faults.New(faults.CodeValidation, op, "scope id is required", nil)
	}
	var row domain.Scope
	if err := r.base(dbc).Where("id = ?", id).Limit(1).Find(&row).Error; err != nil {
		return nil, faults.MapError(op, err)
	}
	if row.ID == uuid.Nil {
		return nil, faults.New(faults.CodeNotFound, op, "scope "+id.String(), nil)
	}
	return &row, nil
}

func (r *scopeRepo) Reset(dbc dbctx.Context, id uuid.UUID) error {
	const op = "scope.reset"
	if id == uuid.Nil {
		return faults.New(faults.CodeValidation, op, "scope id is required", nil)
	}
	run := func(tx *gorm.DB) error {
		// The spatial mirror rows must go before their zones, while the rowids
		// are still resolvable. The table only exists on rtree-capable builds.
		if tx.Migrator().HasTable("clash_zone_rtree") {
			err := tx.Exec(`DELETE FROM clash_zone_rtree WHERE id IN
				(SELECT rowid FROM clash_zone WHERE scope_id = ?)`, id).Error
			if err != nil {
				return faults.MapError(op, err)
			}
		}
		stmts := []string{
			`DELETE FROM combined_constituent WHERE combined_id IN (SELECT id FROM combined_aggregate WHERE scope_id = ?)`,
			`DELETE FROM combined_aggregate WHERE scope_id = ?`,
			`DELETE FROM cluster_member WHERE cluster_id IN (SELECT id FROM cluster_aggregate WHERE scope_id = ?)`,
			`DELETE FROM cluster_aggregate WHERE scope_id = ?`,
			`DELETE FROM clash_zone WHERE scope_id = ?`,
		}
		for _, stmt := range stmts {
			if err := tx.Exec(stmt, id).Error; err != nil {
				return faults.MapError(op, err)
			}
		}
		return nil
	}
	var err error
	if dbc.Tx != nil {
		err = run(dbc.Tx.WithContext(dbc.Ctx))
	} else {
		err = r.db.WithContext(dbc.Ctx).Transaction(run)
	}
	if err != nil {
		return err
	}
	r.log.Info("Scope reset", "scope_id", id)
	return nil
}
