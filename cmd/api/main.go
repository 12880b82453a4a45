package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"backend-shaperun/internal/config"
	"backend-shaperun/internal/db"
	"backend-shaperun/internal/fitter"
	"backend-shaperun/internal/generation"
	"backend-shaperun/internal/logging"
	"backend-shaperun/internal/metrics"
	"backend-shaperun/internal/places"
	"backend-shaperun/internal/roadgraph"
	"backend-shaperun/internal/route"
	"backend-shaperun/internal/scorer"
	"backend-shaperun/internal/server"
	"backend-shaperun/internal/shape"
	"backend-shaperun/internal/shared/collab"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig      func() config.Config
	connectPostgres func(config.Config) (*pgxpool.Pool, error)
	connectRedis    func(config.Config) *redis.Client
	notify          func(chan<- os.Signal, ...os.Signal)
	run             func(context.Context, config.Config, *pgxpool.Pool, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:      config.Load,
		connectPostgres: db.ConnectPostgres,
		connectRedis:    db.ConnectRedis,
		notify:          signal.Notify,
		run:             Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()
	logger := logging.New(cfg.LogLevel)

	pg, err := deps.connectPostgres(cfg)
	if err != nil {
		level.Error(logger).Log("msg", "postgres connection failed", "err", err)
	}

	rdb := deps.connectRedis(cfg)

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, pg, rdb, signals, nil); err != nil {
		level.Error(logger).Log("msg", "server exited with error", "err", err)
	}
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

var bootstrapFn = bootstrap

// bootstrap migrates the schema and seeds the shape catalogue.
func bootstrap(ctx context.Context, cfg config.Config, q db.Querier, logger log.Logger) error {
	if q == nil {
		level.Warn(logger).Log("msg", "no database, skipping migrations")
		return nil
	}
	if err := db.Migrate(ctx, q); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	n, err := shape.NewService(q).SeedFile(ctx, cfg.ShapesFile)
	if err != nil {
		level.Warn(logger).Log("msg", "shape seeds not loaded", "path", cfg.ShapesFile, "err", err)
		return nil
	}
	level.Info(logger).Log("msg", "seeded shapes", "count", n)
	return nil
}

// newEngine assembles the generation pipeline over the configured road
// graph and infrastructure sources.
func newEngine(ctx context.Context, cfg config.Config, q db.Querier, rdb *redis.Client, logger log.Logger) (*generation.Engine, *places.Service, error) {
	router, err := roadgraph.FromConfig(ctx, cfg, rdb, logger)
	if err != nil {
		return nil, nil, err
	}
	fit := fitter.New(router, fitter.DefaultConfig(), logger)
	for mode, r := range roadgraph.ModeRouters(cfg, rdb, logger) {
		fit.WithModeRouter(mode, r)
	}

	var elevation places.ElevationSource
	if cfg.ElevationURL != "" {
		client := collab.NewClient(metrics.ServiceElevation, cfg.CollaboratorTimeout, cfg.CollaboratorRetries, logger)
		elevation = places.NewElevationClient(cfg.ElevationURL, client)
	}
	infra := places.NewService(q, elevation)

	engine := generation.NewEngine(
		generation.NewPgStore(q, route.NewService(q)),
		shape.NewService(q),
		fit,
		scorer.New(infra, logger),
		generation.Config{
			Workers:   cfg.GenerationWorkers,
			QueueSize: cfg.GenerationQueue,
			Timeout:   cfg.GenerationTimeout,
			Instance:  cfg.InstanceID,
			Lease:     cfg.GenerationLease,
		},
		logger,
	)
	return engine, infra, nil
}

// Run starts the HTTP server and waits for termination signals.
func Run(ctx context.Context, cfg config.Config, pg *pgxpool.Pool, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	logger := logging.New(cfg.LogLevel)

	var q db.Querier
	if pg != nil {
		q = pg
	}
	if err := bootstrapFn(ctx, cfg, q, logger); err != nil {
		return err
	}

	engine, infra, err := newEngine(ctx, cfg, q, rdb, logger)
	if err != nil {
		return err
	}
	if q != nil {
		if _, err := engine.RecoverInterrupted(ctx); err != nil {
			level.Warn(logger).Log("msg", "recovering interrupted tasks failed", "err", err)
		}
	}
	if err := engine.Start(); err != nil {
		return err
	}

	srv := server.NewServer(cfg, server.Deps{DB: q, Redis: rdb, Engine: engine, Places: infra, Logger: logger})

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			engine.Stop()
			_ = srv.Stream.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = shutdownFn(srv.App, shutdownCtx)
	engine.Stop()
	_ = srv.Stream.Close()
	if err != nil {
		return err
	}
	if pg != nil {
		pg.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}
