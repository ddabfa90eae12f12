// Package app provides application-level wiring and dependency injection
// for the wrangler following hexagonal architecture.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"datawrangler/internal/config"
	"datawrangler/internal/db"
	"datawrangler/internal/db/repository"
	"datawrangler/internal/engine"
	"datawrangler/internal/service/pipeline"
	"datawrangler/internal/service/profile"
	"datawrangler/internal/service/quality"
	"datawrangler/internal/service/ranking"
	"datawrangler/internal/service/transform"
	"datawrangler/internal/service/validation"
)

// Deps holds the external dependencies that the CLI must provide.
type Deps struct {
	Cfg    *config.Config
	Logger *slog.Logger

	// Registerer receives the pipeline metrics. Nil disables them.
	Registerer prometheus.Registerer
}

// App holds the fully-wired application: state store, DuckDB engine, the
// pipeline service and its scheduler.
type App struct {
	Store     *db.Store
	Engine    *engine.Engine
	Pipeline  *pipeline.Service
	Scheduler *pipeline.Scheduler
}

// New opens the state store, runs migrations, starts DuckDB and wires every
// stage into the pipeline service.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger

	// === State store ===
	store, err := db.Open(cfg.State.DBPath, 4)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	if err := db.RunMigrations(ctx, store.Write, logger); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate state store: %w", err)
	}

	// === Engine ===
	eng, err := engine.Open(logger.With("component", "engine"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	// === Stages ===
	scorer, err := quality.New(cfg.Scoring, cfg.Seed, logger.With("component", "quality"))
	if err != nil {
		_ = eng.Close()
		_ = store.Close()
		return nil, err
	}

	var metrics *pipeline.Metrics
	if deps.Registerer != nil {
		metrics = pipeline.NewMetrics(deps.Registerer)
	}

	svc := pipeline.NewService(pipeline.Deps{
		Config:    cfg,
		Loader:    eng,
		Profiler:  profile.New(logger.With("component", "profile")),
		Generator: transform.NewGenerator(cfg.Generation, logger.With("component", "generator")),
		Executor:  transform.NewExecutor(cfg.Execution, logger.With("component", "executor")),
		Validator: validation.New(cfg.Validation, logger.With("component", "validation")),
		Scorer:    scorer,
		Ranker:    ranking.New(cfg.Ranking, logger.With("component", "ranking")),
		States:    repository.NewPipelineStateRepo(store),
		Metrics:   metrics,
		Logger:    logger.With("component", "pipeline"),
	})

	sched := pipeline.NewScheduler(svc, cfg.Schedules, cfg.Scheduler, logger.With("component", "scheduler"))

	return &App{
		Store:     store,
		Engine:    eng,
		Pipeline:  svc,
		Scheduler: sched,
	}, nil
}

// Close releases the engine and the state store.
func (a *App) Close() error {
	return errors.Join(a.Engine.Close(), a.Store.Close())
}
