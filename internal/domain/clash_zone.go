package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/jseaddons/clashcore/internal/domain/resolution"
)

// SnapshotSide selects which parameter snapshot blob a write targets.
type SnapshotSide string

const (
	SnapshotMoving SnapshotSide = "moving"
	SnapshotFixed  SnapshotSide = "fixed"
)

func (s SnapshotSide) Valid() bool {
	return s == SnapshotMoving || s == SnapshotFixed
}

// ClashZone is one detected intersection between a moving (MEP) element and a
// fixed (structural) element. Identity is derived from the scope, the two
// element refs, and the quantized intersection point; everything else is a
// latest-write attribute.
type ClashZone struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ScopeID uuid.UUID `gorm:"type:uuid;not null;index:idx_clash_zone_identity,unique,priority:1" json:"scope_id"`
	Scope   *Scope    `gorm:"foreignKey:ScopeID;references:ID;constraint:OnDelete:CASCADE" json:"scope,omitempty"`

	MovingElementRef int64  `gorm:"column:moving_element_ref;not null;index:idx_clash_zone_identity,unique,priority:2" json:"moving_element_ref"`
	FixedElementRef  int64  `gorm:"column:fixed_element_ref;not null;index:idx_clash_zone_identity,unique,priority:3" json:"fixed_element_ref"`
	PointKey         string `gorm:"column:point_key;not null;index:idx_clash_zone_identity,unique,priority:4" json:"point_key"`

	Category Category `gorm:"column:category;not null;index" json:"category"`

	PointX float64 `gorm:"column:point_x;not null" json:"point_x"`
	PointY float64 `gorm:"column:point_y;not null" json:"point_y"`
	PointZ float64 `gorm:"column:point_z;not null" json:"point_z"`

	// Canonical axis-aligned box, mirrored into the spatial index.
	MinX float64 `gorm:"column:min_x;not null" json:"min_x"`
	MinY float64 `gorm:"column:min_y;not null" json:"min_y"`
	MinZ float64 `gorm:"column:min_z;not null" json:"min_z"`
	MaxX float64 `gorm:"column:max_x;not null" json:"max_x"`
	MaxY float64 `gorm:"column:max_y;not null" json:"max_y"`
	MaxZ float64 `gorm:"column:max_z;not null" json:"max_z"`

	OrientX float64 `gorm:"column:orient_x;not null;default:0" json:"orient_x"`
	OrientY float64 `gorm:"column:orient_y;not null;default:0" json:"orient_y"`
	OrientZ float64 `gorm:"column:orient_z;not null;default:0" json:"orient_z"`
	RotSin  float64 `gorm:"column:rot_sin;not null;default:0" json:"rot_sin"`
	RotCos  float64 `gorm:"column:rot_cos;not null;default:1" json:"rot_cos"`

	// Present only when the moving element is not axis-aligned.
	OrientedBox datatypes.JSON `gorm:"column:oriented_box" json:"oriented_box,omitempty"`
	// Present only for linear hosts (walls).
	HostBox datatypes.JSON `gorm:"column:host_box" json:"host_box,omitempty"`
	Corners datatypes.JSON `gorm:"column:corners" json:"corners,omitempty"`

	// Opaque key/value snapshots; written by the parameter-transfer
	// collaborator and never parsed here.
	MovingSnapshot datatypes.JSON `gorm:"column:moving_snapshot" json:"moving_snapshot,omitempty"`
	FixedSnapshot  datatypes.JSON `gorm:"column:fixed_snapshot" json:"fixed_snapshot,omitempty"`

	IndividuallyResolved bool       `gorm:"column:individually_resolved;not null;default:false" json:"individually_resolved"`
	PlacedElementRef     *int64     `gorm:"column:placed_element_ref" json:"placed_element_ref,omitempty"`
	ClusterResolved      bool       `gorm:"column:cluster_resolved;not null;default:false" json:"cluster_resolved"`
	ClusterID            *uuid.UUID `gorm:"type:uuid;column:cluster_id;index" json:"cluster_id,omitempty"`
	CombinedResolved     bool       `gorm:"column:combined_resolved;not null;default:false" json:"combined_resolved"`
	CombinedID           *uuid.UUID `gorm:"type:uuid;column:combined_id;index" json:"combined_id,omitempty"`

	// Derived resolution state; recomputed in the same write as every flag
	// mutation, never lazily.
	State int `gorm:"column:state;not null;default:0;index" json:"state"`

	// Session flags, fully recomputed each session. Never patched
	// incrementally.
	IsCurrent bool `gorm:"column:is_current;not null;default:false;index" json:"is_current"`
	IsReady   bool `gorm:"column:is_ready;not null;default:false;index" json:"is_ready"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ClashZone) TableName() string { return "clash_zone" }

// Point returns the intersection point.
func (z *ClashZone) Point() Point {
	return Point{X: z.PointX, Y: z.PointY, Z: z.PointZ}
}

// Box returns the canonical axis-aligned bounding box.
func (z *ClashZone) Box() Box {
	return Box{MinX: z.MinX, MinY: z.MinY, MinZ: z.MinZ, MaxX: z.MaxX, MaxY: z.MaxY, MaxZ: z.MaxZ}
}

// SetBox writes the canonical box columns.
func (z *ClashZone) SetBox(b Box) {
	z.MinX, z.MinY, z.MinZ = b.MinX, b.MinY, b.MinZ
	z.MaxX, z.MaxY, z.MaxZ = b.MaxX, b.MaxY, b.MaxZ
}

// Flags returns the resolution flag snapshot used by transition validation.
func (z *ClashZone) Flags() resolution.Flags {
	return resolution.Flags{
		Individual: z.IndividuallyResolved,
		Cluster:    z.ClusterResolved,
		Combined:   z.CombinedResolved,
	}
}

// ToJSON marshals a value into a GORM JSON column payload.
func ToJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
