// The calcstore worker: consumes queued orbital cube jobs, evaluates the
// cubes, and fills the cache the API server serves from.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/chemcloud/calcstore/internal/application/orbital"
	"github.com/chemcloud/calcstore/internal/chem/avogadro"
	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/postgres"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/postgres/repositories"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/redis"
	"github.com/chemcloud/calcstore/internal/infrastructure/messaging/kafka"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/prometheus"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file; unset reads CALCSTORE_* env vars")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "calcstore-worker: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.LogConfig{
		Level:            cfg.Log.Level,
		Format:           cfg.Log.Format,
		OutputPaths:      cfg.Log.OutputPaths,
		ErrorOutputPaths: cfg.Log.ErrorOutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "calcstore-worker: build logger: %v\n", err)
		os.Exit(1)
	}
	logger = logger.Named("worker")

	if err := run(cfg, logger); err != nil {
		logger.Fatal("worker exited", logging.Err(err))
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
		Namespace: "calcstore",
	}, logger)
	if err != nil {
		return err
	}
	metrics := prometheus.NewAppMetrics(collector)

	conn, err := postgres.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	rdb, err := redis.NewClient(cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer rdb.Close()

	calcRepo := repositories.NewCalculationRepository(conn.Pool(), logger)
	cubeCache := redis.NewCubeCache(rdb.Redis(), cfg.Redis.KeyPrefix, cfg.Redis.DefaultTTL, logger)
	cubeComputer := avogadro.NewComputer(cfg.Gateway, logger)

	// The worker never locks or dispatches: the cache's first-write-wins Put
	// already resolves duplicate jobs.
	orbitals := orbital.NewService(calcRepo, cubeComputer, cubeCache,
		nil, nil, cfg.Gateway, metrics, logger)

	hostname, _ := os.Hostname()
	inFlight := metrics.CubeJobsInFlight.WithLabelValues(hostname)

	handler := func(ctx context.Context, job kafka.CubeJob) error {
		inFlight.Inc()
		defer inFlight.Dec()
		return orbitals.ComputeAndCache(ctx, job.CalculationID, job.MO)
	}

	healthSrv, err := startHealthServer(cfg.Worker, logger)
	if err != nil {
		return err
	}
	defer healthSrv.GracefulStop()

	concurrency := cfg.Worker.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	// One consumer per slot, all in the same consumer group; the broker
	// balances partitions across them.
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		consumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Worker, handler, logger)
		if err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
	}

	logger.Info("worker started",
		logging.Int("concurrency", concurrency),
		logging.Int("health_port", cfg.Worker.HealthPort),
	)
	return g.Wait()
}

// startHealthServer exposes the gRPC health protocol so orchestrators can
// probe the worker, which serves no HTTP.
func startHealthServer(cfg config.WorkerConfig, logger logging.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.HealthPort))
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		if err := srv.Serve(lis); err != nil {
			logger.Error("health server stopped", logging.Err(err))
		}
	}()
	return srv, nil
}
