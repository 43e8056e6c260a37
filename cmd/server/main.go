package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"presence-service/internal/client"
	"presence-service/internal/config"
	"presence-service/internal/database"
	"presence-service/internal/job"
	"presence-service/internal/metrics"
	"presence-service/internal/publisher"
	"presence-service/internal/repository"
	"presence-service/internal/router"
	"presence-service/internal/service"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logger.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Info("Starting Presence Service",
		zap.String("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.Mode),
		zap.String("base_path", cfg.Server.BasePath),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Duration("poll_interval", cfg.Presence.PollInterval),
		zap.String("timezone", cfg.Analytics.Timezone),
	)

	db, err := database.New(database.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.GetDSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	logger.Info("Database connected and migrated")

	m := metrics.New()
	clock := quartz.NewReal()

	// Redis is optional; without it events are dropped
	var (
		redisClient *redis.Client
		pub         publisher.Publisher = publisher.NopPublisher{}
	)
	redisClient, err = database.InitRedis(context.Background(), cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis unavailable, presence events will not be published", zap.Error(err))
		redisClient = nil
	} else {
		pub = publisher.NewRedisPublisher(redisClient, cfg.Redis.ChannelPrefix, logger)
	}

	repo := repository.NewIntervalRepository(db, m)
	recorder := service.NewIntervalRecorder(repo, pub, clock, m, logger)
	aggregator := service.NewAggregationService(repo, cfg.Analytics.Location(), m, logger)

	var source client.PresenceSource
	if cfg.Presence.SourceURL != "" {
		httpClient := client.NewHTTPPresenceClient(
			cfg.Presence.SourceURL,
			cfg.Presence.Token,
			cfg.Presence.RequestTimeout,
			clock,
			logger,
			m,
		)
		if cfg.Presence.Batch {
			source = httpClient
		} else {
			source = client.NewSequentialSource(httpClient, cfg.Presence.InterEntityDelay, clock, logger)
		}
		logger.Info("Presence source configured",
			zap.String("url", cfg.Presence.SourceURL),
			zap.Bool("batch", cfg.Presence.Batch),
			zap.Int("tracked_entities", len(cfg.Presence.TrackedEntities)),
		)
	} else {
		logger.Warn("No presence source configured, only pushed events will be recorded")
	}

	poller := job.NewPoller(source, recorder, repo, nil, clock, job.PollerConfig{
		Interval:        cfg.Presence.PollInterval,
		InitialDelay:    cfg.Presence.InitialDelay,
		TrackedEntities: cfg.Presence.TrackedEntities,
	}, m, logger)
	if err := poller.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start presence poller", zap.Error(err))
	}

	scheduler := job.NewScheduler(logger)
	if cfg.Jobs.ReconcileSchedule != "" {
		if err := scheduler.Register("reconcile_presence_cache", cfg.Jobs.ReconcileSchedule,
			job.NewReconcileJob(poller, 0, logger)); err != nil {
			logger.Fatal("Failed to schedule cache reconciliation", zap.Error(err))
		}
	}
	scheduler.Start()

	r := router.Setup(router.Config{
		DB:           db,
		Redis:        redisClient,
		Logger:       logger,
		Metrics:      m,
		BasePath:     cfg.Server.BasePath,
		Recorder:     recorder,
		History:      repo,
		Aggregator:   aggregator,
		Poller:       poller,
		DefaultLimit: cfg.Analytics.DefaultLimit,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Presence Service started successfully", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// stop producers before the store goes away
	select {
	case <-scheduler.Stop().Done():
	case <-ctx.Done():
		logger.Warn("Scheduled jobs still running at shutdown deadline")
	}
	poller.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("Failed to close redis client", zap.Error(err))
		}
	}
	if err := database.Close(db); err != nil {
		logger.Error("Failed to close database", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

// initLogger initializes the zap logger with the specified level
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
