// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openbookings/calsync/internal/api"
	"github.com/openbookings/calsync/internal/availability"
	"github.com/openbookings/calsync/internal/config"
	"github.com/openbookings/calsync/internal/daemon"
	"github.com/openbookings/calsync/internal/domain"
	"github.com/openbookings/calsync/internal/log"
	"github.com/openbookings/calsync/internal/monitor"
	"github.com/openbookings/calsync/internal/queue"
	"github.com/openbookings/calsync/internal/store"
	"github.com/openbookings/calsync/internal/telemetry"
	"github.com/openbookings/calsync/internal/validator"
	"github.com/openbookings/calsync/internal/version"

	"github.com/redis/go-redis/v9"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("calsyncd %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "calsync",
		Version: version.Version,
	})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnv(*configPath)
	if err != nil {
		logger.Fatal().Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	log.SetLevel(cfg.LogLevel)

	if err := run(ctx, cfg, *configPath); err != nil {
		logger.Fatal().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
	}
}

func run(ctx context.Context, cfg config.Config, configPath string) error {
	logger := log.WithComponent("main")

	holder := config.NewHolder(cfg, configPath)
	if err := holder.StartWatcher(ctx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer holder.Stop()

	traceProvider, err := telemetry.NewTraceProvider(ctx, telemetry.TraceConfig{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    "calsync",
		ServiceVersion: version.Version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	integrations, cleanupStore, err := buildStore(cfg)
	if err != nil {
		return err
	}

	jobs, cleanupQueue, err := buildQueue(cfg)
	if err != nil {
		return err
	}

	emitter := telemetry.NewEmitter(256, telemetry.NewLogSink())

	v := validator.New()
	mon := monitor.New(monitor.Config{
		CheckInterval: cfg.CheckInterval,
		CheckTimeout:  cfg.CheckTimeout,
		JobTimeout:    cfg.JobTimeout,
	}, integrations, jobs, v, emitter)

	avail := availability.New(integrations, cfg.CoalesceMaxInFlight)

	consumer := queue.NewConsumer(jobs, func(ctx context.Context, job domain.Job) error {
		return mon.PerformSingleCheck(ctx, job.ResourceType, job.ResourceID)
	}, cfg.ConsumerConcurrency)

	apiServer := api.NewServer(api.Config{RateLimit: cfg.APIRateLimit}, mon, avail,
		api.WithReadiness(func(ctx context.Context) error {
			_, err := integrations.ListActive(ctx)
			return err
		}))

	manager, err := daemon.NewManager(daemon.ServerConfig{
		ListenAddr:  cfg.APIListen,
		MetricsAddr: cfg.MetricsListen,
	}, daemon.Deps{
		APIHandler:     apiServer.Router(),
		MetricsHandler: promhttp.Handler(),
		Scheduler:      mon,
		Consumer:       consumer,
	})
	if err != nil {
		return err
	}

	// LIFO: the emitter closes last so late check events still flush.
	manager.RegisterShutdownHook("emitter", func(context.Context) error {
		emitter.Close()
		return nil
	})
	manager.RegisterShutdownHook("tracing", traceProvider.Shutdown)
	if cleanupQueue != nil {
		manager.RegisterShutdownHook("queue", cleanupQueue)
	}
	if cleanupStore != nil {
		manager.RegisterShutdownHook("store", cleanupStore)
	}
	manager.RegisterShutdownHook("monitor", func(context.Context) error {
		mon.Stop()
		return nil
	})
	manager.RegisterShutdownHook("availability", func(context.Context) error {
		avail.Close()
		return nil
	})

	logger.Info().
		Str("event", "daemon.configured").
		Str("store", cfg.StoreBackend).
		Str("queue", cfg.QueueBackend).
		Dur("check_interval", cfg.CheckInterval).
		Msg("calsync daemon configured")

	return manager.Start(ctx)
}

func buildStore(cfg config.Config) (domain.Store, daemon.ShutdownHook, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		var sealer *domain.Sealer
		key, err := cfg.SealingKeyBytes()
		if err != nil {
			return nil, nil, fmt.Errorf("sealing key: %w", err)
		}
		if key != nil {
			sealer, err = domain.NewSealer(key)
			if err != nil {
				return nil, nil, fmt.Errorf("build sealer: %w", err)
			}
		}
		db, err := store.OpenSQLite(cfg.SQLitePath, sealer)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return db, func(context.Context) error { return db.Close() }, nil
	default:
		return store.NewMemory(), nil, nil
	}
}

func buildQueue(cfg config.Config) (domain.Queue, daemon.ShutdownHook, error) {
	switch cfg.QueueBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedis(client, cfg.RedisKey), func(context.Context) error { return client.Close() }, nil
	default:
		return queue.NewMemory(cfg.QueueCapacity), nil, nil
	}
}
