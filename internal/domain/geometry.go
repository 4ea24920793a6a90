package domain

import (
	"fmt"
	"math"
)

// Point is a location in world coordinates (model units).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector is a direction in world coordinates.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quantize snaps the point onto a grid of the given tolerance. Two detection
// passes over an unchanged clash land on the same grid cell, which is what
// makes the derived zone identity stable.
func (p Point) Quantize(tol float64) Point {
	if tol <= 0 {
		return p
	}
	return Point{
		X: math.Round(p.X/tol) * tol,
		Y: math.Round(p.Y/tol) * tol,
		Z: math.Round(p.Z/tol) * tol,
	}
}

// QuantizedKey renders the grid cell as a stable string for identity hashing.
func (p Point) QuantizedKey(tol float64) string {
	if tol <= 0 {
		tol = 1
	}
	return fmt.Sprintf("%d:%d:%d",
		int64(math.Round(p.X/tol)),
		int64(math.Round(p.Y/tol)),
		int64(math.Round(p.Z/tol)))
}

// Box is an axis-aligned bounding box.
type Box struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MinZ float64 `json:"min_z"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
	MaxZ float64 `json:"max_z"`
}

// Valid reports whether the box can be indexed: min strictly below max on all
// three axes. A degenerate all-zero box fails the strict comparison too, but
// the explicit check keeps the intent visible.
func (b Box) Valid() bool {
	if b == (Box{}) {
		return false
	}
	return b.MinX < b.MaxX && b.MinY < b.MaxY && b.MinZ < b.MaxZ
}

// Intersects is the single containment predicate shared by the indexed and
// linear query paths.
func (b Box) Intersects(o Box) bool {
	return b.MinX <= o.MaxX && b.MaxX >= o.MinX &&
		b.MinY <= o.MaxY && b.MaxY >= o.MinY &&
		b.MinZ <= o.MaxZ && b.MaxZ >= o.MinZ
}

// Union grows the box to cover o.
func (b Box) Union(o Box) Box {
	if !b.Valid() {
		return o
	}
	if !o.Valid() {
		return b
	}
	return Box{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MinZ: math.Min(b.MinZ, o.MinZ),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
		MaxZ: math.Max(b.MaxZ, o.MaxZ),
	}
}

// Center returns the box midpoint, used as the default placement point for
// aggregates.
func (b Box) Center() Point {
	return Point{
		X: (b.MinX + b.MaxX) / 2,
		Y: (b.MinY + b.MaxY) / 2,
		Z: (b.MinZ + b.MaxZ) / 2,
	}
}

// Corners returns the four footprint corners at the box base, in world space.
func (b Box) Corners() [4]Point {
	return [4]Point{
		{X: b.MinX, Y: b.MinY, Z: b.MinZ},
		{X: b.MaxX, Y: b.MinY, Z: b.MinZ},
		{X: b.MaxX, Y: b.MaxY, Z: b.MinZ},
		{X: b.MinX, Y: b.MaxY, Z: b.MinZ},
	}
}

// OrientedBox describes a rotated bounding box for moving elements that are
// not axis-aligned. Rotation is about the Z axis through Center.
type OrientedBox struct {
	Center Point   `json:"center"`
	HalfX  float64 `json:"half_x"`
	HalfY  float64 `json:"half_y"`
	HalfZ  float64 `json:"half_z"`
	RotSin float64 `json:"rot_sin"`
	RotCos float64 `json:"rot_cos"`
}

// HostRelativeBox expresses a bounding box in a coordinate frame aligned to a
// linear host (a wall). Downstream placement reads it without rotation math.
type HostRelativeBox struct {
	Origin    Point  `json:"origin"`
	Direction Vector `json:"direction"`
	Box       Box    `json:"box"`
}
