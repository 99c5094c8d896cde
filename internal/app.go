// Package internal wires linkfolio's components into a cartridge application.
package internal

import (
	"fmt"
	"time"

	"github.com/karloscodes/cartridge"

	"linkfolio/internal/config"
	"linkfolio/internal/database"
	"linkfolio/internal/jobs"
)

// Application wraps cartridge.Application with linkfolio-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager // linkfolio DB manager with migration methods
	Deps      *Dependencies
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps := NewDependencies(cfg, logger, dbManager)

	scheduler := jobs.NewScheduler(logger)
	scheduler.Add(jobs.NewCleanupJob(deps.Store, logger, cfg.RawEventsRetentionDays),
		time.Duration(cfg.JobIntervalSeconds)*time.Second)
	if deps.GeoDB != nil {
		scheduler.Add(jobs.NewGeoDBReloadJob(cfg.GeoDBPath, deps.GeoDB, logger), jobs.GeoDBReloadInterval)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:       cfg,
		Logger:       logger,
		DBManager:    dbManager,
		ServerConfig: NewServerConfig(),
		RouteMountFunc: func(srv *cartridge.Server) {
			MountRoutes(srv, deps)
		},
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler, deps.Tracker},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Deps:        deps,
	}, nil
}

// Close releases resources held outside the database manager.
func (a *Application) Close() {
	a.Deps.Geo.Close()
	if a.Deps.GeoDB != nil {
		a.Deps.GeoDB.Close()
	}
}
