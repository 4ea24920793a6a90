package db

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
)

// models lists every persisted table, leaves first.
func models() []any {
	return []any{
		&domain.SchemaMark{},
		&domain.Scope{},
		&domain.ClashZone{},
		&domain.ClusterAggregate{},
		&domain.ClusterMember{},
		&domain.CombinedAggregate{},
		&domain.CombinedConstituent{},
	}
}

// EnsureSchema creates every required table if absent. It never alters
// existing tables; additive changes belong to EvolveSchema. Safe to call on
// every open.
func (s *SQLiteService) EnsureSchema() error {
	const op = "db.ensure_schema"
	for _, m := range models() {
		if s.db.Migrator().HasTable(m) {
			continue
		}
		if err := s.db.Migrator().CreateTable(m); err != nil {
			s.log.Error("Create table failed", "error", err)
			return faults.New(faults.CodeInitialization, op, "create table", err)
		}
	}
	return nil
}

// columnStep is one additive (table, column) migration. The probe is schema
// introspection, never a raw add-attempt, so replaying the list on an
// already-migrated store is side-effect-free.
type columnStep struct {
	id    string
	model any
	field string
}

// indexStep creates an index by name when introspection says it is missing.
type indexStep struct {
	id    string
	model any
	name  string
}

// Ordered evolution history. Append only: entries are replayed against stores
// created by every prior release.
var columnSteps = []columnStep{
	{"002_zone_rot_sin", &domain.ClashZone{}, "RotSin"},
	{"002_zone_rot_cos", &domain.ClashZone{}, "RotCos"},
	{"003_zone_oriented_box", &domain.ClashZone{}, "OrientedBox"},
	{"004_zone_host_box", &domain.ClashZone{}, "HostBox"},
	{"005_zone_combined_resolved", &domain.ClashZone{}, "CombinedResolved"},
	{"005_zone_combined_id", &domain.ClashZone{}, "CombinedID"},
	{"006_zone_state", &domain.ClashZone{}, "State"},
	{"007_zone_is_current", &domain.ClashZone{}, "IsCurrent"},
	{"007_zone_is_ready", &domain.ClashZone{}, "IsReady"},
	{"008_cluster_rot_sin", &domain.ClusterAggregate{}, "RotSin"},
	{"008_cluster_rot_cos", &domain.ClusterAggregate{}, "RotCos"},
	{"009_cluster_member_count", &domain.ClusterAggregate{}, "MemberCount"},
}

var indexSteps = []indexStep{
	{"010_zone_identity_index", &domain.ClashZone{}, "idx_clash_zone_identity"},
	{"011_cluster_member_index", &domain.ClusterMember{}, "idx_cluster_member"},
	{"012_constituent_zone_index", &domain.CombinedConstituent{}, "idx_combined_constituent_zone"},
	{"013_constituent_cluster_index", &domain.CombinedConstituent{}, "idx_combined_constituent_cluster"},
}

// EvolveSchema applies the additive migration history inside one transaction.
// Each step probes the live schema before issuing its change, so the whole
// batch is idempotent; any single failure rolls the entire batch back.
func (s *SQLiteService) EvolveSchema() error {
	const op = "db.evolve_schema"
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, step := range columnSteps {
			if tx.Migrator().HasColumn(step.model, step.field) {
				continue
			}
			s.log.Info("Adding column", "migration", step.id)
			if err := tx.Migrator().AddColumn(step.model, step.field); err != nil {
				return faults.New(faults.CodeMigration, op, "add column "+step.id, err)
			}
			if err := mark(tx, step.id); err != nil {
				return faults.New(faults.CodeMigration, op, "mark "+step.id, err)
			}
		}
		for _, step := range indexSteps {
			if tx.Migrator().HasIndex(step.model, step.name) {
				continue
			}
			s.log.Info("Creating index", "migration", step.id)
			if err := tx.Migrator().CreateIndex(step.model, step.name); err != nil {
				return faults.New(faults.CodeMigration, op, "create index "+step.id, err)
			}
			if err := mark(tx, step.id); err != nil {
				return faults.New(faults.CodeMigration, op, "mark "+step.id, err)
			}
		}
		return nil
	})
	if err != nil {
		s.log.Error("Schema evolution rolled back", "error", err)
		if faults.Is(err, faults.CodeMigration) {
			return err
		}
		return faults.New(faults.CodeMigration, op, "evolution transaction", err)
	}
	return nil
}

func mark(tx *gorm.DB, id string) error {
	row := &domain.SchemaMark{ID: id, AppliedAt: time.Now().UTC()}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}
