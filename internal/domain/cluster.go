package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ClusterAggregate groups same-category, spatially proximate zones that are
// resolved together with one placement. Grouping decisions are made by an
// external geometric collaborator; this row persists the result.
type ClusterAggregate struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ScopeID uuid.UUID `gorm:"type:uuid;not null;index" json:"scope_id"`
	Scope   *Scope    `gorm:"foreignKey:ScopeID;references:ID;constraint:OnDelete:CASCADE" json:"scope,omitempty"`

	Category Category `gorm:"column:category;not null;index" json:"category"`

	// Unified geometry over the member set.
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

	MemberCount int `gorm:"column:member_count;not null;default:0" json:"member_count"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ClusterAggregate) TableName() string { return "cluster_aggregate" }

// Box returns the unified bounding box.
func (c *ClusterAggregate) Box() Box {
	return Box{MinX: c.MinX, MinY: c.MinY, MinZ: c.MinZ, MaxX: c.MaxX, MaxY: c.MaxY, MaxZ: c.MaxZ}
}

// SetBox writes the unified box columns.
func (c *ClusterAggregate) SetBox(b Box) {
	c.MinX, c.MinY, c.MinZ = b.MinX, b.MinY, b.MinZ
	c.MaxX, c.MaxY, c.MaxZ = b.MaxX, b.MaxY, b.MaxZ
}

// ClusterMember is one row of the membership join table. The member list is
// the single source of truth for flag fan-out; zone-side cluster flags are
// derived from it.
type ClusterMember struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClusterID uuid.UUID `gorm:"type:uuid;not null;index:idx_cluster_member,unique,priority:1" json:"cluster_id"`
	ZoneID    uuid.UUID `gorm:"type:uuid;not null;index:idx_cluster_member,unique,priority:2" json:"zone_id"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (ClusterMember) TableName() string { return "cluster_member" }
