// Package internal contains core application wiring
package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"fanout/internal/config"
	"fanout/internal/database"
	"fanout/internal/jobs"
	"fanout/internal/logger"
	"fanout/internal/runner"
	"fanout/internal/runs"
)

// Application bundles the fanout components behind one lifecycle.
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	DBManager *database.DBManager
	Runners   *runner.Registry
	Manager   *runs.Manager
	Scheduler *jobs.Scheduler

	server *fiber.App
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	log := logger.New(cfg)

	dbManager := database.NewDBManager(cfg, log)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := runner.NewRegistry(cfg, log)
	manager := runs.NewManager(dbManager.GetConnection(), cfg, registry, log)

	scheduler, err := jobs.NewScheduler(dbManager.GetConnection(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app := &Application{
		Config:    cfg,
		Logger:    log,
		DBManager: dbManager,
		Runners:   registry,
		Manager:   manager,
		Scheduler: scheduler,
	}

	server := fiber.New(fiber.Config{
		AppName:               cfg.AppName,
		DisableStartupMessage: true,
	})
	MountRoutes(server, app)
	app.server = server

	return app, nil
}

// Server exposes the fiber app, primarily for tests.
func (a *Application) Server() *fiber.App {
	return a.server
}

// StartAsync starts background jobs and the HTTP listener without blocking.
func (a *Application) StartAsync() error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start background jobs: %w", err)
	}

	addr := ":" + a.Config.AppPort
	go func() {
		if err := a.server.Listen(addr); err != nil {
			a.Logger.Error("HTTP server stopped", slog.Any("error", err))
		}
	}()

	a.Logger.Info("Application started", slog.String("addr", addr))
	return nil
}

// Shutdown stops background jobs, active runs, the HTTP server, and the
// database connection, in that order.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Scheduler.Stop()
	a.Manager.StopAll()

	if err := a.server.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}

	if err := a.DBManager.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	a.Logger.Info("Application shut down")
	return nil
}
