package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Name-based UUID namespaces. These are part of the persisted format: changing
// one orphans every previously stored row, so they are frozen.
var (
	namespaceScope    = uuid.MustParse("5b2e9f04-1c7a-4e1d-9b63-2a8c1f6d0e42")
	namespaceZone     = uuid.MustParse("c3a57d18-6f2b-4a90-8e1c-74d9b0f3a615")
	namespaceCluster  = uuid.MustParse("9d41c6e2-0b8f-4d37-a52e-e17f8c4b2d90")
	namespaceCombined = uuid.MustParse("27f0b8a4-5d13-4c6e-b9d0-3c62a1e7f584")
)

// NewScopeID derives the partition key for a (filter, category, file combo).
func NewScopeID(filterName string, category Category, sourceModelKey, targetModelKey string) uuid.UUID {
	key := fmt.Sprintf("%s|%s|%s|%s", filterName, category, sourceModelKey, targetModelKey)
	return uuid.NewSHA1(namespaceScope, []byte(key))
}

// NewZoneID derives the deterministic clash-zone identity. Re-running
// detection on an unchanged clash reproduces the same id, which is what turns
// re-detection into an upsert instead of a duplicate insert.
func NewZoneID(scopeID uuid.UUID, movingRef, fixedRef int64, point Point, tol float64) uuid.UUID {
	key := fmt.Sprintf("%s|%d|%d|%s", scopeID, movingRef, fixedRef, point.QuantizedKey(tol))
	return uuid.NewSHA1(namespaceZone, []byte(key))
}

// NewClusterID derives a cluster identity from its sorted member set, so the
// same grouping always maps to the same aggregate row.
func NewClusterID(scopeID uuid.UUID, memberIDs []uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(namespaceCluster, []byte(memberKey(scopeID, memberIDs)))
}

// NewCombinedID derives a combined-aggregate identity from its sorted
// constituent references.
func NewCombinedID(scopeID uuid.UUID, constituentIDs []uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(namespaceCombined, []byte(memberKey(scopeID, constituentIDs)))
}

func memberKey(scopeID uuid.UUID, ids []uuid.UUID) string {
	sorted := make([]string, 0, len(ids))
	for _, id := range ids {
		sorted = append(sorted, id.String())
	}
	sort.Strings(sorted)
	return scopeID.String() + "|" + strings.Join(sorted, ",")
}
