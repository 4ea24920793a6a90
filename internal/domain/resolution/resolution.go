// Package resolution centralizes the clash-zone resolution state machine.
// Every flag mutation goes through a transition constructor here, which
// returns the complete column-update set including the recomputed derived
// state. Callers can therefore never write a flag without updating state in
// the same operation.
package resolution

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the derived resolution state of a zone.
type State int

const (
	Unresolved           State = 0
	IndividuallyResolved State = 1
	ClusterResolved      State = 2
	// CombinedResolved outranks every underlying flag for downstream
	// processing decisions.
	CombinedResolved State = 3
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case IndividuallyResolved:
		return "individually_resolved"
	case ClusterResolved:
		return "cluster_resolved"
	case CombinedResolved:
		return "combined_resolved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Flags is the snapshot of the three resolution flags on a zone.
type Flags struct {
	Individual bool
	Cluster    bool
	Combined   bool
}

// Derive computes the state from flags: Combined > Cluster > Individual >
// Unresolved.
func Derive(f Flags) State {
	switch {
	case f.Combined:
		return CombinedResolved
	case f.Cluster:
		return ClusterResolved
	case f.Individual:
		return IndividuallyResolved
	default:
		return Unresolved
	}
}

// Updates is the column-update set a transition produces. Keys are column
// names on the clash_zone table.
type Updates map[string]any

// MarkPlaced transitions Unresolved -> IndividuallyResolved when the
// placement collaborator reports a placed element.
func MarkPlaced(cur Flags, placedRef int64) (Updates, error) {
	if cur.Combined || cur.Cluster || cur.Individual {
		return nil, fmt.Errorf("mark placed: zone already %s", Derive(cur))
	}
	next := Flags{Individual: true}
	return Updates{
		"individually_resolved": true,
		"placed_element_ref":    placedRef,
		"state":                 int(Derive(next)),
	}, nil
}

// MarkClustered absorbs the zone into a cluster aggregate. Allowed from
// Unresolved or IndividuallyResolved; the individual flag and placed ref are
// retained so redundant individual placements can be cleaned up later.
func MarkClustered(cur Flags, clusterID uuid.UUID) (Updates, error) {
	if cur.Combined {
		return nil, fmt.Errorf("mark clustered: zone already %s", CombinedResolved)
	}
	if cur.Cluster {
		return nil, fmt.Errorf("mark clustered: zone already %s", ClusterResolved)
	}
	next := cur
	next.Cluster = true
	return Updates{
		"cluster_resolved": true,
		"cluster_id":       clusterID,
		"state":            int(Derive(next)),
	}, nil
}

// MarkCombined tags the zone as a constituent of a combined aggregate, either
// directly or through its owning cluster. The underlying individual/cluster
// flags are retained; combined takes precedence for everything downstream.
func MarkCombined(cur Flags, combinedID uuid.UUID) (Updates, error) {
	if cur.Combined {
		return nil, fmt.Errorf("mark combined: zone already %s", CombinedResolved)
	}
	next := cur
	next.Combined = true
	return Updates{
		"combined_resolved": true,
		"combined_id":       combinedID,
		"state":             int(Derive(next)),
	}, nil
}

// Reset clears every resolution flag and reference atomically. Used when the
// upstream geometry a zone depended on disappears in a later detection pass.
// Valid from any state.
func Reset() Updates {
	return Updates{
		"individually_resolved": false,
		"placed_element_ref":    nil,
		"cluster_resolved":      false,
		"cluster_id":            nil,
		"combined_resolved":     false,
		"combined_id":           nil,
		"state":                 int(Unresolved),
	}
}
