package domain

import (
	"time"

	"github.com/google/uuid"
)

// Scope is the partition key under which zones, clusters, and combined
// aggregates are evaluated: a named filter configuration plus a source/target
// model pair plus a category. All identity derivation is scoped to it.
type Scope struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FilterName     string    `gorm:"column:filter_name;not null;index:idx_scope_key,unique,priority:1" json:"filter_name"`
	Category       Category  `gorm:"column:category;not null;index:idx_scope_key,unique,priority:2" json:"category"`
	SourceModelKey string    `gorm:"column:source_model_key;not null;index:idx_scope_key,unique,priority:3" json:"source_model_key"`
	TargetModelKey string    `gorm:"column:target_model_key;not null;index:idx_scope_key,unique,priority:4" json:"target_model_key"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Scope) TableName() string { return "scope" }

// NewScope builds a scope row with its deterministic id.
func NewScope(filterName string, category Category, sourceModelKey, targetModelKey string) *Scope {
	return &Scope{
		ID:             NewScopeID(filterName, category, sourceModelKey, targetModelKey),
		FilterName:     filterName,
		Category:       category,
		SourceModelKey: sourceModelKey,
		TargetModelKey: targetModelKey,
	}
}
