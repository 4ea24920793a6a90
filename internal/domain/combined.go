package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CombinedAggregate groups zones across categories, composed of individual
// zones and/or whole clusters.
type CombinedAggregate struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ScopeID uuid.UUID `gorm:"type:uuid;not null;index" json:"scope_id"`
	Scope   *Scope    `gorm:"foreignKey:ScopeID;references:ID;constraint:OnDelete:CASCADE" json:"scope,omitempty"`

	MinX float64 `gorm:"column:min_x;not null" json:"min_x"`
	MinY float64 `gorm:"column:min_y;not null" json:"min_y"`
	MinZ float64 `gorm:"column:min_z;not null" json:"min_z"`
	MaxX float64 `gorm:"column:max_x;not null" json:"max_x"`
	MaxY float64 `gorm:"column:max_y;not null" json:"max_y"`
	MaxZ float64 `gorm:"column:max_z;not null" json:"max_z"`

	RotSin float64 `gorm:"column:rot_sin;not null;default:0" json:"rot_sin"`
	RotCos float64 `gorm:"column:rot_cos;not null;default:1" json:"rot_cos"`

	PlacementX float64 `gorm:"column:placement_x;not null" json:"placement_x"`
	PlacementY float64 `gorm:"column:placement_y;not null" json:"placement_y"`
	PlacementZ float64 `gorm:"column:placement_z;not null" json:"placement_z"`

	Corners datatypes.JSON `gorm:"column:corners" json:"corners,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (CombinedAggregate) TableName() string { return "combined_aggregate" }

// Box returns the unified bounding box.
func (c *CombinedAggregate) Box() Box {
	return Box{MinX: c.MinX, MinY: c.MinY, MinZ: c.MinZ, MaxX: c.MaxX, MaxY: c.MaxY, MaxZ: c.MaxZ}
}

// SetBox writes the unified box columns.
func (c *CombinedAggregate) SetBox(b Box) {
	c.MinX, c.MinY, c.MinZ = b.MinX, b.MinY, b.MinZ
	c.MaxX, c.MaxY, c.MaxZ = b.MaxX, b.MaxY, b.MaxZ
}

// CombinedConstituent is one polymorphic row of a combined aggregate: exactly
// one of ZoneID / ClusterID is set, never both, never neither. The CHECK
// constraint enforces it at the storage layer and builders validate it before
// writing. The per-kind unique indexes make the constituent set idempotent
// under rebuilds (NULLs compare distinct, so each index only binds its own
// kind).
type CombinedConstituent struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	CombinedID uuid.UUID  `gorm:"type:uuid;not null;index:idx_combined_constituent_zone,unique,priority:1;index:idx_combined_constituent_cluster,unique,priority:1" json:"combined_id"`
	ZoneID     *uuid.UUID `gorm:"type:uuid;column:zone_id;index:idx_combined_constituent_zone,unique,priority:2;check:chk_constituent_kind,(zone_id IS NULL) <> (cluster_id IS NULL)" json:"zone_id,omitempty"`
	ClusterID  *uuid.UUID `gorm:"type:uuid;column:cluster_id;index:idx_combined_constituent_cluster,unique,priority:2" json:"cluster_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (CombinedConstituent) TableName() string { return "combined_constituent" }

// Kind reports which reference the constituent carries: "zone", "cluster", or
// "invalid" when the exactly-one invariant is broken.
func (c *CombinedConstituent) Kind() string {
	switch {
	case c.ZoneID != nil && c.ClusterID == nil:
		return "zone"
	case c.ZoneID == nil && c.ClusterID != nil:
		return "cluster"
	default:
		return "invalid"
	}
}
