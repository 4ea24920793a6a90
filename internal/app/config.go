package app

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jseaddons/clashcore/internal/platform/envutil"
	"github.com/jseaddons/clashcore/internal/platform/logger"
)

// Config is the explicit per-session configuration value object. It is
// constructed once and threaded through every component constructor; no
// component reads ambient global state.
type Config struct {
	// DatabasePath is the store file for the active project scope.
	DatabasePath string `yaml:"database_path"`
	// LogMode selects the zap encoder ("dev" or "prod").
	LogMode string `yaml:"log_mode"`
	// PointTolerance is the grid size, in model units, used to quantize
	// intersection points for identity derivation.
	PointTolerance float64 `yaml:"point_tolerance"`
	// BulkChunkSize caps rows per merge statement in bulk upserts.
	BulkChunkSize int `yaml:"bulk_chunk_size"`
	// SpatialIndex: "auto" probes the sqlite build, "off" forces the linear
	// fallback.
	SpatialIndex string `yaml:"spatial_index"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		DatabasePath:   "clashcore.db",
		LogMode:        "dev",
		PointTolerance: 1e-3,
		BulkChunkSize:  500,
		SpatialIndex:   "auto",
	}
}

// LoadConfig layers defaults, an optional YAML file (CLASHCORE_CONFIG, or
// ./clashcore.yaml when present), and env overrides, in that order.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := DefaultConfig()

	path := envutil.String("CLASHCORE_CONFIG", "")
	if path == "" {
		if _, err := os.Stat("clashcore.yaml"); err == nil {
			path = "clashcore.yaml"
		}
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, err
		}
		if log != nil {
			log.Info("Loaded config file", "path", path)
		}
	}

	cfg.DatabasePath = envutil.String("CLASHCORE_DB_PATH", cfg.DatabasePath)
	cfg.LogMode = envutil.String("CLASHCORE_LOG_MODE", cfg.LogMode)
	cfg.PointTolerance = envutil.Float("CLASHCORE_POINT_TOLERANCE", cfg.PointTolerance)
	cfg.BulkChunkSize = envutil.Int("CLASHCORE_BULK_CHUNK_SIZE", cfg.BulkChunkSize)
	cfg.SpatialIndex = envutil.String("CLASHCORE_SPATIAL_INDEX", cfg.SpatialIndex)
	return cfg, nil
}
