package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bcnelson/sid/internal/config"
	"github.com/bcnelson/sid/internal/deploy"
	"github.com/bcnelson/sid/internal/events"
	"github.com/bcnelson/sid/internal/mirror"
	"github.com/bcnelson/sid/internal/notify"
	"github.com/bcnelson/sid/internal/process"
	"github.com/bcnelson/sid/internal/service"
	"github.com/bcnelson/sid/internal/storage"
	"github.com/bcnelson/sid/internal/storage/sql"
	"github.com/bcnelson/sid/internal/web"
)

// app is the wired pipeline shared by every command.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      storage.Storage
	sink       notify.Sink
	generation *web.Generation
	pipeline   *service.Pipeline
}

// openStore opens the configured database, creating the sqlite directory
// if needed. Migrations run on open.
func openStore(cfg *config.Config) (*sql.Store, error) {
	if cfg.Database.Driver == "sqlite3" {
		if dir := filepath.Dir(cfg.Database.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
	}
	return sql.New(cfg.Database.Driver, cfg.Database.DSN)
}

func newApp(cfg *config.Config, logger *slog.Logger, runner process.Runner) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	return wire(cfg, logger, store, runner), nil
}

func wire(cfg *config.Config, logger *slog.Logger, store storage.Storage, runner process.Runner) *app {
	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		generation: &web.Generation{},
		sink: notify.New(notify.Options{
			URL:       cfg.Notify.URL,
			Title:     cfg.Notify.Title,
			PerSecond: cfg.Notify.Rate,
			QueueSize: cfg.Notify.Queue,
			Logger:    logger,
		}),
	}

	rec := events.NewRecorder(store, logger)
	mgr := mirror.NewManager(cfg.Repo, runner, rec, a.sink, logger)
	engine := deploy.NewEngine(deploy.EngineOptions{
		Binary:        cfg.Docker.Binary,
		Timeout:       cfg.Docker.Timeout,
		DeployTimeout: cfg.Docker.DeployTimeout,
	}, runner, rec, logger)
	executor := deploy.NewExecutor(engine, rec, deploy.ExecutorOptions{
		Root:        mgr.Path(),
		Concurrency: cfg.Docker.Concurrency,
		Sink:        a.sink,
		Invalidator: a.generation,
		Logger:      logger,
	})

	a.pipeline = service.NewPipeline(service.Deps{
		Store:       store,
		Mirror:      mgr,
		Executor:    executor,
		Engine:      engine,
		Recorder:    rec,
		Invalidator: a.generation,
		Logger:      logger,
		Debounce:    cfg.Sync.Debounce,
	})
	return a
}

// close waits for in-flight runs, drains queued notifications and closes the store.
func (a *app) close() {
	drain := a.cfg.Server.DrainTimeout
	if drain <= 0 {
		drain = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), drain)
	if err := a.pipeline.Shutdown(ctx); err != nil {
		a.logger.Warn("Pipeline runs did not finish before shutdown", "timeout", drain, "error", err)
	}
	cancel()

	if s, ok := a.sink.(*notify.HTTPSink); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.Close(ctx)
		cancel()
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", "error", err)
	}
}
