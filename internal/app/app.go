package app

import (
	"github.com/jseaddons/clashcore/internal/data/aggregates"
	"github.com/jseaddons/clashcore/internal/data/repos/spatial"
	"github.com/jseaddons/clashcore/internal/data/repos/zones"
	"github.com/jseaddons/clashcore/internal/db"
	"github.com/jseaddons/clashcore/internal/platform/logger"
	"github.com/jseaddons/clashcore/internal/services"
)

// Repos bundles the data-layer handles.
type Repos struct {
	Scopes zones.ScopeRepo
	Zones  zones.ClashZoneRepo
}

// Builders bundles the aggregate builders.
type Builders struct {
	Cluster  *aggregates.ClusterBuilder
	Combined *aggregates.CombinedBuilder
}

// Services bundles the collaborator-facing write paths.
type Services struct {
	Detection *services.DetectionService
	Placement *services.PlacementService
	Session   *services.SessionService
}

// App wires the whole store for one project scope: open, verify schema once,
// pick the spatial strategy, construct repos/builders/services.
type App struct {
	Cfg      Config
	Log      *logger.Logger
	Store    *db.SQLiteService
	Spatial  spatial.Strategy
	Tx       aggregates.TxRunner
	Repos    Repos
	Builders Builders
	Services Services
}

// New builds the application from configuration. Initialization and migration
// failures are fatal; a missing rtree module is not.
func New() (*App, error) {
	bootLog, err := logger.New("dev")
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(bootLog)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, log)
}

// NewWithConfig wires the app against an explicit config, for callers (and
// tests) that construct their own.
func NewWithConfig(cfg Config, log *logger.Logger) (*App, error) {
	store, err := db.NewSQLiteService(cfg.DatabasePath, log)
	if err != nil {
		return nil, err
	}
	if err := store.Verify(); err != nil {
		_ = store.Close()
		return nil, err
	}

	indexed := store.SpatialIndexSupported() && cfg.SpatialIndex != "off"
	spatialIdx := spatial.New(store.DB(), indexed, log)
	log.Info("Spatial strategy selected", "strategy", spatialIdx.Name())

	tx := aggregates.NewGormTxRunner(store.DB())
	scopeRepo := zones.NewScopeRepo(store.DB(), log)
	zoneRepo := zones.NewClashZoneRepo(store.DB(), log, cfg.BulkChunkSize)

	a := &App{
		Cfg:     cfg,
		Log:     log,
		Store:   store,
		Spatial: spatialIdx,
		Tx:      tx,
		Repos: Repos{
			Scopes: scopeRepo,
			Zones:  zoneRepo,
		},
		Builders: Builders{
			Cluster:  aggregates.NewClusterBuilder(tx, zoneRepo, log),
			Combined: aggregates.NewCombinedBuilder(tx, zoneRepo, log),
		},
		Services: Services{
			Detection: services.NewDetectionService(zoneRepo, spatialIdx, log, cfg.PointTolerance),
			Placement: services.NewPlacementService(zoneRepo, log),
			Session:   services.NewSessionService(tx, spatialIdx, log),
		},
	}
	return a, nil
}

// Close flushes the logger and releases the store handle.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
