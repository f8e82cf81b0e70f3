package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/ahrav/clipforge/internal/api"
	"github.com/ahrav/clipforge/internal/app/health"
	"github.com/ahrav/clipforge/internal/app/recovery"
	"github.com/ahrav/clipforge/internal/app/resilience"
	"github.com/ahrav/clipforge/internal/config"
	"github.com/ahrav/clipforge/internal/config/fileloader"
	"github.com/ahrav/clipforge/internal/domain/pipeline"
	"github.com/ahrav/clipforge/internal/infra/eventbus/kafka"
	"github.com/ahrav/clipforge/internal/infra/probes"
	"github.com/ahrav/clipforge/internal/infra/storage"
	checkpointMemory "github.com/ahrav/clipforge/internal/infra/storage/checkpoints/memory"
	checkpointPostgres "github.com/ahrav/clipforge/internal/infra/storage/checkpoints/postgres"
	checkpointRedis "github.com/ahrav/clipforge/internal/infra/storage/checkpoints/redis"
	jobsPostgres "github.com/ahrav/clipforge/internal/infra/storage/jobs/postgres"
	manifestPostgres "github.com/ahrav/clipforge/internal/infra/storage/manifests/postgres"
	"github.com/ahrav/clipforge/pkg/common"
	"github.com/ahrav/clipforge/pkg/common/logger"
	cfotel "github.com/ahrav/clipforge/pkg/common/otel"
)

const serviceType = "pipeline-recovery"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      cfotel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return cfotel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("PIPELINE-RECOVERY-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	// TODO: Adjust the min log level via env var.
	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load config", "error", err, "path", configPath)
		os.Exit(1)
	}

	exporterAddr := cfg.Telemetry.ExporterAddr
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		exporterAddr = v
	}
	tp, telemetryTeardown, err := cfotel.InitTelemetry(log, cfotel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: exporterAddr,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.SampleRate,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS.
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(cfg.Telemetry.ServiceName)
	mp := otel.GetMeterProvider()

	dsn := cfg.Postgres.DSN
	if v := os.Getenv("DATABASE_URL"); v != "" {
		dsn = v
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(ctx, pool); err != nil {
		log.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info(ctx, "Migrations applied successfully. Starting application...")

	resilienceMetrics, err := resilience.NewMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create resilience metrics", "error", err)
		os.Exit(1)
	}
	recoveryMetrics, err := recovery.NewMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create recovery metrics", "error", err)
		os.Exit(1)
	}
	queueMetrics, err := kafka.NewMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create queue metrics", "error", err)
		os.Exit(1)
	}
	checkpointMetrics, err := storage.NewCheckpointMetrics(mp)
	if err != nil {
		log.Error(ctx, "failed to create checkpoint metrics", "error", err)
		os.Exit(1)
	}

	breakers := resilience.NewCircuitBreakerRegistry(
		resilienceMetrics, tracer, log,
		resilience.WithFailureThreshold(cfg.Breaker.FailureThreshold),
		resilience.WithCooldown(cfg.Breaker.Cooldown),
	)
	retryPolicy := resilience.NewRetryPolicy(
		resilienceMetrics, tracer, log,
		resilience.WithMaxAttempts(cfg.Retry.MaxAttempts),
		resilience.WithBaseDelay(cfg.Retry.BaseDelay),
		resilience.WithMaxDelay(cfg.Retry.MaxDelay),
	)
	timeouts := resilience.DefaultTimeoutPolicy()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var checkpoints pipeline.CheckpointStore
	switch cfg.Checkpoint.Backend {
	case config.CheckpointBackendRedis:
		if redisClient == nil {
			log.Error(ctx, "redis checkpoint backend selected but redis.addr is not configured")
			os.Exit(1)
		}
		checkpoints = checkpointRedis.NewCheckpointStore(redisClient, cfg.Checkpoint.TTL, checkpointMetrics, tracer)
	case config.CheckpointBackendMemory:
		checkpoints = checkpointMemory.NewCheckpointStore(cfg.Checkpoint.TTL, checkpointMetrics)
	default:
		checkpoints = checkpointPostgres.NewCheckpointStore(pool, cfg.Checkpoint.TTL, checkpointMetrics, tracer)
	}

	registry := jobsPostgres.NewJobStore(pool, tracer)
	manifests := manifestPostgres.NewManifestStore(pool, tracer)

	resumeQueue, err := kafka.ConnectWithRetry(&kafka.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	}, cfg.Kafka.ResumeTopic, queueMetrics, tracer, log)
	if err != nil {
		log.Error(ctx, "failed to connect resume queue", "error", err)
		os.Exit(1)
	}
	resubmitter := resilience.NewRetryingResubmitter(resumeQueue, retryPolicy, breakers)

	coordinator := recovery.NewCoordinator(
		checkpoints,
		registry,
		manifests,
		resubmitter,
		timeouts,
		recoveryMetrics,
		tracer,
		log,
		recovery.WithMaxRecoveryAttempts(cfg.Recovery.MaxAttempts),
	)

	var limiter *common.RateLimiter
	if cfg.Scanner.ResubmitRatePerSecond > 0 {
		limiter = common.NewRateLimiter(cfg.Scanner.ResubmitRatePerSecond, 1)
	}

	scanner := recovery.NewOrphanScanner(
		registry,
		coordinator,
		limiter,
		recoveryMetrics,
		tracer,
		log,
		recovery.WithScanInterval(cfg.Scanner.ScanInterval),
		recovery.WithOrphanThreshold(cfg.Scanner.OrphanThreshold),
		recovery.WithRecoveryWorkers(cfg.Scanner.Workers),
	)
	scanner.Start(ctx)
	defer scanner.Stop()

	aggregator := health.NewAggregator(tracer, log, health.WithBreakerRegistry(breakers))
	aggregator.RegisterRequired(probes.NewPostgresProbe(pool))
	if redisClient != nil {
		aggregator.RegisterOptional(probes.NewRedisProbe(redisClient))
	}
	if kafkaClient, err := kafka.NewClient(&kafka.ClientConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID + "-probe",
	}); err != nil {
		log.Warn(ctx, "kafka probe client unavailable, skipping kafka health probe", "error", err)
	} else {
		defer kafkaClient.Close()
		aggregator.RegisterRequired(probes.NewKafkaProbe(kafkaClient, cfg.Kafka.ResumeTopic))
	}

	server := api.NewServer(
		net.JoinHostPort(cfg.API.Host, cfg.API.Port),
		aggregator,
		registry,
		tracer,
		log,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		scanner.Stop()
		log.Info(shutdownCtx, "Shutdown complete")

	case err := <-errCh:
		log.Error(ctx, "Server error", "error", err)
		os.Exit(1)
	}
}

// runMigrations uses golang-migrate to apply all up migrations from
// "db/migrations". It acquires a single pgx connection from the pool, runs
// migrations, and then releases the connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
