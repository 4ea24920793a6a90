package domain

import "time"

// SchemaMark records an applied migration step. Presence of the row is the
// bookkeeping signal; column probes remain the primary idempotency guard.
type SchemaMark struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	AppliedAt time.Time `gorm:"column:applied_at;not null" json:"applied_at"`
}

func (SchemaMark) TableName() string { return "schema_mark" }
