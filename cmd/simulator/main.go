package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "coordmutex/configs"
	"coordmutex/pkg/api"
	"coordmutex/pkg/auth"
	"coordmutex/pkg/coordination/etcd"
	"coordmutex/pkg/election"
	"coordmutex/pkg/logger"
	"coordmutex/pkg/mutex"
	tracing "coordmutex/pkg/observability"
	"coordmutex/pkg/registry"
	"coordmutex/pkg/resilience"
	"coordmutex/pkg/simulation"
	"coordmutex/pkg/storage"
	"coordmutex/pkg/storage/postgres"
	"coordmutex/pkg/storage/redis"
	"coordmutex/pkg/transport"
)

func main() {
	cfg := config.LoadConfig()

	_, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    "coordmutex",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.Fatal("simulator failed", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := tracing.DefaultConfig("coordmutex")
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.Endpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer shutdownWithTimeout("tracing", tp.Shutdown)

	health := map[string]bool{}

	// Usage sinks
	fileLog, err := storage.NewFileUsageLog(cfg.UsageLogPath)
	if err != nil {
		return err
	}
	sinkLog := logger.For("storage")
	sinks := []storage.UsageSink{storage.NewGuarded(fileLog, resilience.DefaultConfig(), sinkLog)}
	health["usage_file"] = true

	if cfg.HasSink("redis") {
		stream, err := redis.NewUsageStream(fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort))
		health["redis"] = err == nil
		if err != nil {
			logger.Error("redis usage sink unavailable", zap.Error(err))
		} else {
			defer stream.Close()
			sinks = append(sinks, storage.NewGuarded(stream, resilience.DefaultConfig(), sinkLog))
		}
	}

	if cfg.HasSink("postgres") {
		connStr := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
			cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)
		store, err := postgres.NewUsageStore(connStr)
		health["postgres"] = err == nil
		if err != nil {
			logger.Error("postgres usage sink unavailable", zap.Error(err))
		} else {
			defer store.Close()
			sinks = append(sinks, storage.NewGuarded(store, resilience.DefaultConfig(), sinkLog))
		}
	}
	usage := storage.NewMulti(sinks...)

	// Registry, optionally mirrored to etcd
	var (
		reg     mutex.Registry = registry.NewMemory()
		cluster api.ClusterView
	)
	if cfg.EtcdEnabled {
		coord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
		health["etcd"] = err == nil
		if err != nil {
			logger.Error("etcd mirror unavailable", zap.Error(err))
		} else {
			defer coord.Close()
			mirrored := registry.WithMirror(reg, coord, logger.For("registry"))
			defer shutdownWithTimeout("etcd mirror", mirrored.Close)
			reg, cluster = mirrored, mirrored
			logger.Info("etcd mirror enabled", zap.Strings("endpoints", cfg.EtcdEndpoints))
		}
	}

	deps := mutex.Deps{
		Registry: reg,
		Election: election.NewBully(reg, logger.For("election")),
		Network:  transport.NewNetwork(transport.WithLatency(cfg.NetworkLatency), transport.WithLogger(logger.For("transport"))),
		UsageLog: usage,
		Usage: mutex.UsageConfig{
			MinUsageDuration: cfg.MinUsageDuration,
			MaxUsageDuration: cfg.MaxUsageDuration,
			TimeUnit:         cfg.TimeUnit,
		},
		RequestAttempts: cfg.RequestAttempts,
		RetryBackoff:    cfg.RetryBackoff,
		Logger:          logger.For("mutex"),
	}

	driver := simulation.New(deps, simulation.Config{
		InitialProcesses:     cfg.InitialProcesses,
		SpawnEvery:           cfg.SpawnEvery,
		RequestEvery:         cfg.RequestEvery,
		KillCoordinatorEvery: cfg.KillCoordinatorEvery,
		KillProcessEvery:     cfg.KillProcessEvery,
	})
	if err := driver.Seed(ctx); err != nil {
		return fmt.Errorf("seed processes: %w", err)
	}

	var jwt *auth.JWTService
	if cfg.JWTSecret != "" {
		if jwt, err = auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret)); err != nil {
			return err
		}
	} else {
		logger.Warn("JWT_SECRET not set, mutating API routes are unauthenticated")
	}

	server := api.NewServer(api.Config{
		Port:         cfg.APIPort,
		Registry:     reg,
		Controller:   driver,
		Usage:        usage,
		Cluster:      cluster,
		JWT:          jwt,
		Dependencies: health,
		Logger:       logger.For("api"),
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	logger.Info("simulator running",
		zap.String("port", cfg.APIPort),
		zap.Int("processes", cfg.InitialProcesses),
		zap.Strings("sinks", cfg.UsageSinks))

	// Blocks until a signal arrives, then destroys every process.
	if err := driver.Run(ctx); err != nil {
		return err
	}

	shutdownWithTimeout("api", server.Shutdown)
	archiveUsage(cfg, fileLog.Path())
	logger.Info("shutdown complete")
	return nil
}

// archiveUsage ships the usage log file to S3, or to a local directory,
// when either is configured.
func archiveUsage(cfg *config.Config, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		archive storage.Archive
		err     error
	)
	switch {
	case cfg.ArchiveBucket != "":
		archive, err = storage.NewS3Archive(ctx, storage.S3ArchiveConfig{
			Bucket:          cfg.ArchiveBucket,
			Prefix:          cfg.ArchivePrefix,
			Region:          cfg.ArchiveRegion,
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		})
	case cfg.ArchiveDir != "":
		archive, err = storage.NewLocalArchive(cfg.ArchiveDir)
	default:
		return
	}
	if err != nil {
		logger.Error("usage archive unavailable", zap.Error(err))
		return
	}

	ref, err := storage.ArchiveFile(ctx, archive, path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no usage log to archive", zap.String("path", path))
		return
	}
	if err != nil {
		logger.Error("usage archive failed", zap.Error(err))
		return
	}
	logger.Info("usage log archived", zap.String("ref", ref))
}

func shutdownWithTimeout(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn("shutdown error", zap.String("component", name), zap.Error(err))
	}
}
