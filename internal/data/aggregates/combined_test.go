package aggregates

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/domain/resolution"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

func zoneRef(id uuid.UUID) Constituent    { return Constituent{ZoneID: &id} }
func clusterRef(id uuid.UUID) Constituent { return Constituent{ClusterID: &id} }

func TestConstituentValid(t *testing.T) {
	id := uuid.New()
	if !zoneRef(id).Valid() || !clusterRef(id).Valid() {
		t.Fatalf("single-reference constituents should be valid")
	}
	if (Constituent{}).Valid() {
		t.Fatalf("empty constituent should be invalid")
	}
	if (Constituent{ZoneID: &id, ClusterID: &id}).Valid() {
		t.Fatalf("double-reference constituent should be invalid")
	}
}

func TestCombinedBuildRejectsInvalidConstituent(t *testing.T) {
	f := newFixture(t)
	builder := NewCombinedBuilder(f.tx, f.zones, logger.NewNop())
	ctx := context.Background()

	_, err := builder.Build(ctx, f.scope.ID, []Constituent{{}})
	if faults.CodeOf(err) != faults.CodeConsistency {
		t.Fatalf("empty constituent should be a consistency fault, got %v", err)
	}
	id := uuid.New()
	_, err = builder.Build(ctx, f.scope.ID, []Constituent{{ZoneID: &id, ClusterID: &id}})
	if faults.CodeOf(err) != faults.CodeConsistency {
		t.Fatalf("double constituent should be a consistency fault, got %v", err)
	}
	if _, err := builder.Build(ctx, f.scope.ID, nil); faults.CodeOf(err) != faults.CodeValidation {
		t.Fatalf("empty constituent list should fail validation, got %v", err)
	}
}

func TestCombinedBuildFansOutThroughClusters(t *testing.T) {
	f := newFixture(t)
	clusterBuilder := NewClusterBuilder(f.tx, f.zones, logger.NewNop())
	builder := NewCombinedBuilder(f.tx, f.zones, logger.NewNop())
	ctx := context.Background()

	// Two duct zones grouped into a cluster, plus one free pipe zone.
	d1 := f.addZone(t, 1, domain.CategoryDuct, domain.Box{MinX: 0, MinY: 0, MinZ: 0, MaxX: 1, MaxY: 1, MaxZ: 1})
	d2 := f.addZone(t, 2, domain.CategoryDuct, domain.Box{MinX: 1, MinY: 0, MinZ: 0, MaxX: 2, MaxY: 1, MaxZ: 1})
	pipe := f.addZone(t, 3, domain.CategoryPipe, domain.Box{MinX: 4, MinY: 0, MinZ: 0, MaxX: 5, MaxY: 1, MaxZ: 3})
	cluster, err := clusterBuilder.Build(ctx, f.scope.ID, []uuid.UUID{d1, d2})
	if err != nil {
		t.Fatalf("cluster build: %v", err)
	}

	agg, err := builder.Build(ctx, f.scope.ID, []Constituent{zoneRef(pipe), clusterRef(cluster.ID)})
	if err != nil {
		t.Fatalf("combined build: %v", err)
	}
	want := domain.Box{MinX: 0, MinY: 0, MinZ: 0, MaxX: 5, MaxY: 1, MaxZ: 3}
	if agg.Box() != want {
		t.Fatalf("unified box = %+v, want %+v", agg.Box(), want)
	}

	// Direct zone and both transitive cluster members carry the flag.
	for _, id := range []uuid.UUID{pipe, d1, d2} {
		row := f.zone(t, id)
		if !row.CombinedResolved || row.CombinedID == nil || *row.CombinedID != agg.ID {
			t.Fatalf("zone %s not combined: %+v", id, row)
		}
		if row.State != int(resolution.CombinedResolved) {
			t.Fatalf("zone %s state = %d", id, row.State)
		}
	}
	// The cluster members keep their cluster flag underneath.
	row := f.zone(t, d1)
	if !row.ClusterResolved || *row.ClusterID != cluster.ID {
		t.Fatalf("cluster flag must survive combining: %+v", row)
	}

	var rows []*domain.CombinedConstituent
	if err := f.gdb.Where("combined_id = ?", agg.ID).Order("created_at").Find(&rows).Error; err != nil {
		t.Fatalf("load constituents: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("constituent rows = %d", len(rows))
	}
	kinds := map[string]int{}
	for _, r := range rows {
		kinds[r.Kind()]++
	}
	if kinds["zone"] != 1 || kinds["cluster"] != 1 {
		t.Fatalf("constituent kinds = %v", kinds)
	}
}

func TestCombinedBuildRollsBackOnRecombine(t *testing.T) {
	f := newFixture(t)
	builder := NewCombinedBuilder(f.tx, f.zones, logger.NewNop())
	ctx := context.Background()

	z1 := f.addZone(t, 1, domain.CategoryDuct, domain.Box{MinX: 0, MinY: 0, MinZ: 0, MaxX: 1, MaxY: 1, MaxZ: 1})
	z2 := f.addZone(t, 2, domain.CategoryPipe, domain.Box{MinX: 2, MinY: 0, MinZ: 0, MaxX: 3, MaxY: 1, MaxZ: 1})
	if _, err := builder.Build(ctx, f.scope.ID, []Constituent{zoneRef(z1)}); err != nil {
		t.Fatalf("first build: %v", err)
	}

	// z1 is already combined, so the second build must fail and leave z2 alone.
	_, err := builder.Build(ctx, f.scope.ID, []Constituent{zoneRef(z1), zoneRef(z2)})
	if err == nil {
		t.Fatalf("combining an already combined zone should fail")
	}
	row := f.zone(t, z2)
	if row.CombinedResolved || row.State != int(resolution.Unresolved) {
		t.Fatalf("failed build must not flag z2: %+v", row)
	}
	failedID := domain.NewCombinedID(f.scope.ID, []uuid.UUID{z1, z2})
	var count int64
	if err := f.gdb.Model(&domain.CombinedAggregate{}).Where("id = ?", failedID).Count(&count).Error; err != nil {
		t.Fatalf("count aggregates: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed build left an aggregate row behind")
	}
}

func TestCombinedRebuildDoesNotDuplicateConstituents(t *testing.T) {
	f := newFixture(t)
	clusterBuilder := NewClusterBuilder(f.tx, f.zones, logger.NewNop())
	builder := NewCombinedBuilder(f.tx, f.zones, logger.NewNop())
	ctx := context.Background()

	d1 := f.addZone(t, 1, domain.CategoryDuct, domain.Box{MinX: 0, MinY: 0, MinZ: 0, MaxX: 1, MaxY: 1, MaxZ: 1})
	d2 := f.addZone(t, 2, domain.CategoryDuct, domain.Box{MinX: 1, MinY: 0, MinZ: 0, MaxX: 2, MaxY: 1, MaxZ: 1})
	pipe := f.addZone(t, 3, domain.CategoryPipe, domain.Box{MinX: 3, MinY: 0, MinZ: 0, MaxX: 4, MaxY: 1, MaxZ: 1})
	cluster, err := clusterBuilder.Build(ctx, f.scope.ID, []uuid.UUID{d1, d2})
	if err != nil {
		t.Fatalf("cluster build: %v", err)
	}

	constituents := []Constituent{zoneRef(pipe), clusterRef(cluster.ID)}
	agg, err := builder.Build(ctx, f.scope.ID, constituents)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}

	// A later detection pass invalidates every zone; the grouping is then
	// reported again with the identical constituent set.
	if err := f.zones.ResetResolution(dbctx.Background(), []uuid.UUID{d1, d2, pipe}); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if err := f.gdb.Model(&domain.ClashZone{}).Where("id IN ?", []uuid.UUID{d1, d2}).
		Updates(map[string]any{"cluster_resolved": true, "cluster_id": cluster.ID, "state": int(resolution.ClusterResolved)}).Error; err != nil {
		t.Fatalf("restore cluster flags: %v", err)
	}
	rebuilt, err := builder.Build(ctx, f.scope.ID, constituents)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rebuilt.ID != agg.ID {
		t.Fatalf("identical constituents must derive the same aggregate id")
	}

	var rows int64
	if err := f.gdb.Model(&domain.CombinedConstituent{}).Where("combined_id = ?", agg.ID).Count(&rows).Error; err != nil {
		t.Fatalf("count constituents: %v", err)
	}
	if rows != 2 {
		t.Fatalf("rebuild must keep one row per constituent, got %d", rows)
	}
	var perZone int64
	if err := f.gdb.Model(&domain.CombinedConstituent{}).
		Where("combined_id = ? AND zone_id = ?", agg.ID, pipe).Count(&perZone).Error; err != nil {
		t.Fatalf("count zone rows: %v", err)
	}
	if perZone != 1 {
		t.Fatalf("zone constituent duplicated: %d rows", perZone)
	}
}

func TestCombinedBuildMissingRefs(t *testing.T) {
	f := newFixture(t)
	builder := NewCombinedBuilder(f.tx, f.zones, logger.NewNop())
	ctx := context.Background()

	if _, err := builder.Build(ctx, f.scope.ID, []Constituent{zoneRef(uuid.New())}); faults.CodeOf(err) != faults.CodeNotFound {
		t.Fatalf("missing zone should be not_found, got %v", err)
	}
	if _, err := builder.Build(ctx, f.scope.ID, []Constituent{clusterRef(uuid.New())}); faults.CodeOf(err) != faults.CodeNotFound {
		t.Fatalf("missing cluster should be not_found, got %v", err)
	}
}
