package db

// DetectSpatialIndexSupport probes whether the sqlite build carries the rtree
// module, with a throwaway create/insert/query/drop cycle against a scratch
// table. A failure anywhere means "unsupported": it is logged and the caller
// falls back to linear scans, never aborts.
func (s *SQLiteService) DetectSpatialIndexSupport() bool {
	const probe = "spatial_probe"

	defer func() {
		_ = s.db.Exec(`DROP TABLE IF EXISTS ` + probe).Error
	}()

	if err := s.db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS ` + probe + ` USING rtree(id, min_x, max_x)`).Error; err != nil {
		s.log.Warn("Spatial index unsupported", "stage", "create", "error", err)
		return false
	}
	if err := s.db.Exec(`INSERT INTO `+probe+`(id, min_x, max_x) VALUES (?, ?, ?)`, 1, 0.0, 1.0).Error; err != nil {
		s.log.Warn("Spatial index unsupported", "stage", "insert", "error", err)
		return false
	}
	var n int64
	if err := s.db.Raw(`SELECT count(*) FROM `+probe+` WHERE min_x <= ? AND max_x >= ?`, 0.5, 0.5).Scan(&n).Error; err != nil {
		s.log.Warn("Spatial index unsupported", "stage", "query", "error", err)
		return false
	}
	if n != 1 {
		s.log.Warn("Spatial index probe returned wrong count", "count", n)
		return false
	}
	s.log.Debug("Spatial index supported")
	return true
}
