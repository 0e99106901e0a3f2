// The calcstore API server: molecules, geometries, calculations, and
// orbital cubes over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chemcloud/calcstore/internal/application/calculation"
	"github.com/chemcloud/calcstore/internal/application/molecule"
	"github.com/chemcloud/calcstore/internal/application/orbital"
	"github.com/chemcloud/calcstore/internal/chem/avogadro"
	"github.com/chemcloud/calcstore/internal/chem/cactus"
	"github.com/chemcloud/calcstore/internal/chem/openbabel"
	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/postgres"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/postgres/repositories"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/redis"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/prometheus"
	httpserver "github.com/chemcloud/calcstore/internal/interfaces/http"
	"github.com/chemcloud/calcstore/internal/interfaces/http/handlers"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML config file; unset reads CALCSTORE_* env vars")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "calcstore-apiserver: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            cfg.Log.Level,
		Format:           cfg.Log.Format,
		OutputPaths:      cfg.Log.OutputPaths,
		ErrorOutputPaths: cfg.Log.ErrorOutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "calcstore-apiserver: build logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("apiserver")

	if err := run(cfg, logger); err != nil {
		logger.Fatal("apiserver exited", logging.Err(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadFromEnv()
}

func run(cfg *config.Config, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            "calcstore",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewAppMetrics(collector)

	// Core stores.  Postgres and Redis are required; the server refuses to
	// start without them.
	conn, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := postgres.NewMigrator(cfg.Database, logger).Up(); err != nil {
		return err
	}

	rdb, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	moleculeRepo := repositories.NewMoleculeRepository(conn.Pool(), logger)
	geometryRepo := repositories.NewGeometryRepository(conn.Pool(), logger)
	calcRepo := repositories.NewCalculationRepository(conn.Pool(), logger)

	cubeCache := redis.NewCubeCache(rdb.Redis(), cfg.Redis.KeyPrefix, cfg.Redis.DefaultTTL, logger)
	lockFactory := redis.NewLockFactory(rdb.Redis(), cfg.Redis.KeyPrefix, logger)

	// External chemistry tooling.
	converter := openbabel.NewConverter(cfg.Gateway, logger)
	cubeComputer := avogadro.NewComputer(cfg.Gateway, logger)
	nameResolver := cactus.NewResolver(cfg.Gateway, logger)

	// Side channels.  Each degrades to nil when its backend is unreachable;
	// the application services skip the corresponding feature.
	deps := setupOptionalDeps(ctx, cfg, logger)
	defer deps.close(ctx, logger)

	moleculeSvc := molecule.NewService(moleculeRepo, converter,
		deps.similarity(), deps.semantic(), nameResolver,
		cfg.Gateway, cfg.Milvus.FingerprintBits, metrics, logger)

	calcSvc := calculation.NewService(calcRepo, moleculeRepo, geometryRepo,
		converter, moleculeSvc, deps.fileStore(), deps.provenance(), metrics, logger)

	orbitalSvc := orbital.NewService(calcRepo, cubeComputer, cubeCache,
		orbital.LockFactoryFunc(func(name string, ttl time.Duration) orbital.Locker {
			return lockFactory.NewMutex(name, ttl)
		}),
		deps.dispatcher(), cfg.Gateway, metrics, logger)

	health := handlers.NewHealthHandler(append(
		[]handlers.HealthChecker{
			handlers.HealthCheckerFunc{ComponentName: "postgres", Probe: conn.HealthCheck},
			handlers.HealthCheckerFunc{ComponentName: "redis", Probe: rdb.Ping},
		},
		deps.healthCheckers()...,
	)...)

	engine := httpserver.NewRouter(cfg.Server, httpserver.RouterConfig{
		Molecules:      handlers.NewMoleculeHandler(moleculeSvc),
		Calculations:   handlers.NewCalculationHandler(calcSvc, orbitalSvc),
		Geometries:     handlers.NewGeometryHandler(geometryRepo),
		Health:         health,
		Metrics:        metrics,
		MetricsHandler: collector.Handler(),
		Logger:         logger,
	})

	server := httpserver.NewServer(cfg.Server, engine, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	logger.Info("apiserver started", logging.Int("port", cfg.Server.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down", logging.Duration("timeout", shutdownTimeout))
	return server.Shutdown(shutdownCtx)
}
