package spatial

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jseaddons/clashcore/internal/data/repos/zones"
	"github.com/jseaddons/clashcore/internal/db"
	"github.com/jseaddons/clashcore/internal/domain"
	"github.com/jseaddons/clashcore/internal/platform/dbctx"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

type testStore struct {
	gdb       *gorm.DB
	scope     *domain.Scope
	zoneRepo  zones.ClashZoneRepo
	spatialOK bool
}

func newStore(t *testing.T) *testStore {
	t.Helper()
	svc, err := db.NewSQLiteService(filepath.Join(t.TempDir(), "clash.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := svc.Verify(); err != nil {
		t.Fatalf("verify store: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })

	scope := domain.NewScope("spatial test", domain.CategoryDuct, "s.rvt", "t.rvt")
	if _, err := zones.NewScopeRepo(svc.DB(), logger.NewNop()).Ensure(dbctx.Background(), scope); err != nil {
		t.Fatalf("ensure scope: %v", err)
	}
	return &testStore{
		gdb:       svc.DB(),
		scope:     scope,
		zoneRepo:  zones.NewClashZoneRepo(svc.DB(), logger.NewNop(), 0),
		spatialOK: svc.SpatialIndexSupported(),
	}
}

func (s *testStore) addZone(t *testing.T, movingRef int64, box domain.Box) uuid.UUID {
	t.Helper()
	p := box.Center()
	z := &domain.ClashZone{
		ID:               domain.NewZoneID(s.scope.ID, movingRef, 900, p, 1e-3),
		ScopeID:          s.scope.ID,
		MovingElementRef: movingRef,
		FixedElementRef:  900,
		PointKey:         p.QuantizedKey(1e-3),
		Category:         domain.CategoryDuct,
		PointX:           p.X, PointY: p.Y, PointZ: p.Z,
		RotCos: 1,
	}
	z.SetBox(box)
	id, err := s.zoneRepo.Upsert(dbctx.Background(), z)
	if err != nil {
		t.Fatalf("upsert zone: %v", err)
	}
	return id
}

func requireRtree(t *testing.T, s *testStore) Strategy {
	t.Helper()
	if !s.spatialOK {
		t.Skip("sqlite build has no rtree module")
	}
	return New(s.gdb, true, logger.NewNop())
}

func box(minX, minY, minZ, maxX, maxY, maxZ float64) domain.Box {
	return domain.Box{MinX: minX, MinY: minY, MinZ: minZ, MaxX: maxX, MaxY: maxY, MaxZ: maxZ}
}

func TestStrategySelection(t *testing.T) {
	s := newStore(t)
	if got := New(s.gdb, true, logger.NewNop()).Name(); got != "rtree" {
		t.Fatalf("indexed strategy = %s", got)
	}
	if got := New(s.gdb, false, logger.NewNop()).Name(); got != "linear" {
		t.Fatalf("fallback strategy = %s", got)
	}
}

func TestLinearQueryRegion(t *testing.T) {
	s := newStore(t)
	linear := New(s.gdb, false, logger.NewNop())
	dbc := dbctx.Background()

	inside := s.addZone(t, 1, box(0, 0, 0, 1, 1, 1))
	outside := s.addZone(t, 2, box(10, 10, 10, 11, 11, 11))
	// Degenerate box, never indexed, never returned.
	s.addZone(t, 3, domain.Box{})

	ids, err := linear.QueryRegion(dbc, box(-1, -1, -1, 2, 2, 2))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) != 1 || ids[0] != inside {
		t.Fatalf("query = %v, want just %s", ids, inside)
	}

	ids, err = linear.QueryRegion(dbc, box(-1, -1, -1, 20, 20, 20))
	if err != nil {
		t.Fatalf("wide query: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("wide query should see both valid zones, got %v (outside=%s)", ids, outside)
	}
}

func TestStrategiesReturnIdenticalResults(t *testing.T) {
	s := newStore(t)
	rtree := requireRtree(t, s)
	linear := New(s.gdb, false, logger.NewNop())
	dbc := dbctx.Background()

	ids := make([]uuid.UUID, 0, 8)
	boxes := []domain.Box{
		box(0, 0, 0, 1, 1, 1),
		box(0.5, 0.5, 0.5, 1.5, 1.5, 1.5),
		box(3, 3, 3, 4, 4, 4),
		box(-5, -5, -5, -4, -4, -4),
		box(2, 0, 0, 3, 1, 1),
		{}, // degenerate, excluded by both paths
	}
	for i, b := range boxes {
		ids = append(ids, s.addZone(t, int64(100+i), b))
	}
	if err := rtree.RefreshZones(dbc, ids); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	regions := []domain.Box{
		box(-1, -1, -1, 2, 2, 2),
		box(0.9, 0.9, 0.9, 1.1, 1.1, 1.1),
		box(-10, -10, -10, 10, 10, 10),
		box(50, 50, 50, 60, 60, 60),
		box(1, 0, 0, 2.5, 1, 1), // face-touching both sides
	}
	for _, region := range regions {
		fromIndex, err := rtree.QueryRegion(dbc, region)
		if err != nil {
			t.Fatalf("rtree query %+v: %v", region, err)
		}
		fromScan, err := linear.QueryRegion(dbc, region)
		if err != nil {
			t.Fatalf("linear query %+v: %v", region, err)
		}
		if len(fromIndex) != len(fromScan) {
			t.Fatalf("region %+v: rtree=%v linear=%v", region, fromIndex, fromScan)
		}
		for i := range fromIndex {
			if fromIndex[i] != fromScan[i] {
				t.Fatalf("region %+v: rtree=%v linear=%v", region, fromIndex, fromScan)
			}
		}
	}
}

// The rtree mirror holds single-precision coordinates, so boxes that are not
// exactly representable in float32 get widened there. A region chosen just
// past such an edge must still miss on both paths.
func TestStrategiesAgreeOnNonRepresentableEdges(t *testing.T) {
	s := newStore(t)
	rtree := requireRtree(t, s)
	linear := New(s.gdb, false, logger.NewNop())
	dbc := dbctx.Background()

	id := s.addZone(t, 1, box(0, 0, 0, 0.1, 0.1, 0.1))
	if err := rtree.RefreshZones(dbc, []uuid.UUID{id}); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// float32(0.1) > 0.1, so the mirror's max_x sits above the true edge.
	edge := math.Nextafter(0.1, 1)
	region := box(edge, 0, 0, 1, 0.1, 0.1)
	fromScan, err := linear.QueryRegion(dbc, region)
	if err != nil {
		t.Fatalf("linear query: %v", err)
	}
	if len(fromScan) != 0 {
		t.Fatalf("region starts past the box edge, linear = %v", fromScan)
	}
	fromIndex, err := rtree.QueryRegion(dbc, region)
	if err != nil {
		t.Fatalf("rtree query: %v", err)
	}
	if len(fromIndex) != 0 {
		t.Fatalf("rtree must not admit zones the exact predicate rejects, got %v", fromIndex)
	}

	// And the true edge itself still hits on both.
	region = box(0.1, 0, 0, 1, 0.1, 0.1)
	fromScan, err = linear.QueryRegion(dbc, region)
	if err != nil {
		t.Fatalf("linear edge query: %v", err)
	}
	fromIndex, err = rtree.QueryRegion(dbc, region)
	if err != nil {
		t.Fatalf("rtree edge query: %v", err)
	}
	if len(fromScan) != 1 || len(fromIndex) != 1 {
		t.Fatalf("edge touch must hit on both paths: rtree=%v linear=%v", fromIndex, fromScan)
	}
}

func TestQueryRegionRejectsMalformedIDs(t *testing.T) {
	s := newStore(t)
	linear := New(s.gdb, false, logger.NewNop())

	err := s.gdb.Exec(`INSERT INTO clash_zone
		(id, scope_id, moving_element_ref, fixed_element_ref, point_key, category,
		 point_x, point_y, point_z, min_x, min_y, min_z, max_x, max_y, max_z,
		 created_at, updated_at)
		VALUES ('not-a-uuid', ?, 1, 2, '0:0:0', 'duct',
		 0, 0, 0, 0, 0, 0, 1, 1, 1,
		 CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`, s.scope.ID).Error
	if err != nil {
		t.Fatalf("insert malformed row: %v", err)
	}
	_, err = linear.QueryRegion(dbctx.Background(), box(-1, -1, -1, 2, 2, 2))
	if err == nil {
		t.Fatalf("a malformed stored id must surface as an error, not be dropped")
	}
}

func TestRtreeRefreshTracksBoxChanges(t *testing.T) {
	s := newStore(t)
	rtree := requireRtree(t, s)
	dbc := dbctx.Background()

	id := s.addZone(t, 1, box(0, 0, 0, 1, 1, 1))
	if err := rtree.RefreshZones(dbc, []uuid.UUID{id}); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ids, err := rtree.QueryRegion(dbc, box(0, 0, 0, 2, 2, 2))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("zone should be indexed, got %v", ids)
	}

	// The zone's box moves; the old mirror row must not linger.
	err = s.gdb.Model(&domain.ClashZone{}).Where("id = ?", id).Updates(map[string]any{
		"min_x": 100.0, "min_y": 100.0, "min_z": 100.0,
		"max_x": 101.0, "max_y": 101.0, "max_z": 101.0,
	}).Error
	if err != nil {
		t.Fatalf("move zone: %v", err)
	}
	if err := rtree.RefreshZones(dbc, []uuid.UUID{id}); err != nil {
		t.Fatalf("refresh after move: %v", err)
	}
	ids, err = rtree.QueryRegion(dbc, box(0, 0, 0, 2, 2, 2))
	if err != nil {
		t.Fatalf("query old region: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("moved zone still indexed at old position: %v", ids)
	}
	ids, err = rtree.QueryRegion(dbc, box(99, 99, 99, 102, 102, 102))
	if err != nil {
		t.Fatalf("query new region: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("moved zone missing at new position: %v", ids)
	}
}

func TestVerifyConsistencyRebuildsOnMismatch(t *testing.T) {
	s := newStore(t)
	rtree := requireRtree(t, s)
	dbc := dbctx.Background()

	id := s.addZone(t, 1, box(0, 0, 0, 1, 1, 1))
	if err := rtree.Rebuild(dbc); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	ok, err := rtree.VerifyConsistency(dbc)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !ok {
		t.Fatalf("fresh rebuild should verify clean")
	}

	// Rip a mirror row out from under the index.
	if err := s.gdb.Exec(`DELETE FROM clash_zone_rtree`).Error; err != nil {
		t.Fatalf("corrupt index: %v", err)
	}
	ok, err = rtree.VerifyConsistency(dbc)
	if err != nil {
		t.Fatalf("verify after corruption: %v", err)
	}
	if ok {
		t.Fatalf("verify should report the mismatch")
	}
	// And it healed itself.
	ids, err := rtree.QueryRegion(dbc, box(-1, -1, -1, 2, 2, 2))
	if err != nil {
		t.Fatalf("query after heal: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("rebuild after mismatch did not restore the index: %v", ids)
	}
}

func TestScopeResetClearsMirrorRows(t *testing.T) {
	s := newStore(t)
	rtree := requireRtree(t, s)
	dbc := dbctx.Background()

	s.addZone(t, 1, box(0, 0, 0, 1, 1, 1))
	s.addZone(t, 2, box(2, 2, 2, 3, 3, 3))
	if err := rtree.Rebuild(dbc); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if err := zones.NewScopeRepo(s.gdb, logger.NewNop()).Reset(dbc, s.scope.ID); err != nil {
		t.Fatalf("scope reset: %v", err)
	}

	var mirror int64
	if err := s.gdb.Raw(`SELECT count(*) FROM clash_zone_rtree`).Scan(&mirror).Error; err != nil {
		t.Fatalf("count mirror rows: %v", err)
	}
	if mirror != 0 {
		t.Fatalf("reset left %d mirror rows behind", mirror)
	}
	// Still consistent without needing a corrective rebuild.
	ok, err := rtree.VerifyConsistency(dbc)
	if err != nil || !ok {
		t.Fatalf("verify after reset = %v, %v", ok, err)
	}
}

func TestLinearAlwaysConsistent(t *testing.T) {
	s := newStore(t)
	linear := New(s.gdb, false, logger.NewNop())
	ok, err := linear.VerifyConsistency(dbctx.Background())
	if err != nil || !ok {
		t.Fatalf("linear verify = %v, %v", ok, err)
	}
	if err := linear.Rebuild(dbctx.Background()); err != nil {
		t.Fatalf("linear rebuild should be a no-op: %v", err)
	}
}
