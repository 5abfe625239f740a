package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"club-bot/internal/artifact"
	"club-bot/internal/cache"
	"club-bot/internal/config"
	"club-bot/internal/flows"
	"club-bot/internal/flowstate"
	"club-bot/internal/httpserver"
	"club-bot/internal/limiter"
	"club-bot/internal/logging"
	"club-bot/internal/metrics"
	"club-bot/internal/records"
	"club-bot/internal/supervisor"
	"club-bot/internal/syncer"
	"club-bot/internal/userstore"
	"club-bot/internal/wa"
	"club-bot/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.AppEnv)
	logger.Info("starting club-bot", "env", cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	store, err := records.New(ctx, records.Config{
		DatabaseURL: cfg.DatabaseURL,
		Schema:      cfg.DatabaseSchema,
		SQLitePath:  cfg.SQLitePath,
	}, logger)
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("record store migrated")

	redisClient := cache.New(cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		UseTLS:   cfg.RedisTLS,
	}, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed closing redis", "error", err)
		}
	}()
	if err := redisClient.Ping(ctx); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	storeLimiter := limiter.New(cfg.StoreMaxPerSecond)

	queueManager := syncer.New(store, storeLimiter, redisClient, metricRegistry, logger, syncer.Config{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		UserTTL:      cfg.UserTTL,
	})
	queueManager.Start(ctx)

	artifactClient := artifact.New(artifact.Config{
		BaseURL: cfg.ArtifactBaseURL,
		APIKey:  cfg.ArtifactAPIKey,
		Timeout: cfg.ArtifactTimeout,
	}, logger)

	users := userstore.New(redisClient, store, storeLimiter, queueManager, artifactClient, metricRegistry, logger, cfg.UserTTL)
	states := flowstate.New(redisClient, logger, cfg.FlowTTL)

	waClient, err := wa.New(ctx, wa.Config{
		StorePath: cfg.WhatsAppStorePath,
		LogLevel:  cfg.WhatsAppLogLevel,
		Metrics:   metricRegistry,
	}, logger)
	if err != nil {
		return fmt.Errorf("init whatsapp client: %w", err)
	}
	defer waClient.Close()

	engine := flows.New(users, states, waClient, nil, metricRegistry, logger)
	waClient.SetMessageProcessor(engine)

	for _, flow := range []string{flows.FlowRegister, flows.FlowJoinClub} {
		sup := supervisor.New(states, redisClient, engine, metricRegistry, logger, supervisor.Config{
			Flow:              flow,
			Interval:          cfg.SupervisorInterval,
			ReminderThreshold: cfg.ReminderThreshold,
			CancelThreshold:   cfg.CancelThreshold,
		})
		go sup.Run(ctx)
	}

	go func() {
		if err := waClient.Start(ctx); err != nil {
			logger.Error("whatsapp client stopped", "error", err)
			stop()
		}
	}()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, cfg.PublicBasePath)
	httpSrv.SetDependencies(httpserver.Dependencies{
		Users:     users,
		Flows:     states,
		Redis:     redisClient,
		Templates: engine,
		Depths: func() map[string]int {
			return map[string]int{
				syncer.QueueRegistration: queueManager.Depth(syncer.QueueRegistration),
				syncer.QueueOptUpdate:    queueManager.Depth(syncer.QueueOptUpdate),
				syncer.QueueOptOut:       queueManager.Depth(syncer.QueueOptOut),
				syncer.QueueThreadUpdate: queueManager.Depth(syncer.QueueThreadUpdate),
			}
		},
	})

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}
