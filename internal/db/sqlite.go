package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jseaddons/clashcore/internal/domain/faults"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// SQLiteService owns the embedded store handle for one project file. Schema
// verification (ensure + evolve + capability probe) runs at most once per
// process session; the handle is reused across every operation after that.
type SQLiteService struct {
	db   *gorm.DB
	log  *logger.Logger
	path string

	verifyOnce sync.Once
	verifyErr  error
	spatialOK  bool
}

// NewSQLiteService opens (creating if needed) the store file. A failure here
// is fatal: no handle is returned.
func NewSQLiteService(path string, log *logger.Logger) (*SQLiteService, error) {
	const op = "db.open"
	if log == nil {
		log = logger.NewNop()
	}
	serviceLog := log.With("service", "SQLiteService")
	if path == "" {
		return nil, faults.New(faults.CodeInitialization, op, "store path is required", nil)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, faults.New(faults.CodeInitialization, op, "create store directory", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	serviceLog.Info("Opening clash store", "path", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		serviceLog.Error("Failed to open clash store", "path", path, "error", err)
		return nil, faults.New(faults.CodeInitialization, op, "open sqlite store", err)
	}
	// Writes go through one connection; the single-logical-writer model does
	// not need a pool and sqlite does not reward one.
	if sqlDB, err := gdb.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}

	return &SQLiteService{db: gdb, log: serviceLog, path: path}, nil
}

// DB exposes the underlying handle for repos and tests.
func (s *SQLiteService) DB() *gorm.DB { return s.db }

// Path returns the store file path.
func (s *SQLiteService) Path() string { return s.path }

// Verify runs EnsureSchema, EvolveSchema, and the spatial capability probe
// exactly once per process session. Later calls return the cached result.
func (s *SQLiteService) Verify() error {
	s.verifyOnce.Do(func() {
		if err := s.EnsureSchema(); err != nil {
			s.verifyErr = err
			return
		}
		if err := s.EvolveSchema(); err != nil {
			s.verifyErr = err
			return
		}
		s.spatialOK = s.DetectSpatialIndexSupport()
	})
	return s.verifyErr
}

// SpatialIndexSupported reports the probe outcome. Only meaningful after
// Verify.
func (s *SQLiteService) SpatialIndexSupported() bool { return s.spatialOK }

// Close releases the underlying connection.
func (s *SQLiteService) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
