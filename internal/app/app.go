package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/p2p-settlement/internal/api"
	"github.com/ayo6706/p2p-settlement/internal/api/middleware"
	"github.com/ayo6706/p2p-settlement/internal/config"
	"github.com/ayo6706/p2p-settlement/internal/db"
	"github.com/ayo6706/p2p-settlement/internal/idempotency"
	"github.com/ayo6706/p2p-settlement/internal/observability"
	"github.com/ayo6706/p2p-settlement/internal/rates"
	"github.com/ayo6706/p2p-settlement/internal/repository"
	"github.com/ayo6706/p2p-settlement/internal/service"
	"github.com/ayo6706/p2p-settlement/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Run bootstraps the HTTP server, the callback pool and the background jobs,
// blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := db.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewStore(pool)
	settings := config.NewSettingsHolder(cfg.Settlement)
	settings.Watch(cfg.ConfigFile)

	rateSource, err := newRateSource(cfg, redisClient)
	if err != nil {
		return err
	}

	callbacks := service.NewCallbackService(store, settings)
	callbackPool := worker.NewCallbackPool(callbacks, cfg.CallbackWorkers, cfg.CallbackQueueSize)
	stopCallbacks := callbackPool.Run(ctx)

	transactions := service.NewTransactionService(store, callbackPool)
	allocator := service.NewAllocatorService(store, rateSource, settings)
	devices := service.NewDeviceService(store, settings)
	matcher := service.NewMatcherService(store, settings, callbackPool)
	expiry := service.NewExpiryService(store, settings, transactions)
	reconciliation := service.NewReconciliationService(store)

	scheduler := worker.NewScheduler()
	for _, job := range []worker.Job{
		worker.MatcherJob(matcher, cfg.MatcherInterval),
		worker.ExpiryJob(expiry, cfg.ExpiryInterval),
		worker.DeviceWatchJob(devices, cfg.DeviceWatchInterval),
		worker.RateRefreshJob(rateSource, cfg.RateRefreshInterval),
		worker.ReconciliationJob(reconciliation, cfg.ReconcileInterval),
	} {
		if err := scheduler.Add(job); err != nil {
			return err
		}
	}
	scheduler.Start()
	logger.Info("background jobs started",
		zap.Duration("matcher", cfg.MatcherInterval),
		zap.Duration("expiry", cfg.ExpiryInterval),
		zap.Int("callback_workers", cfg.CallbackWorkers),
	)

	router := api.NewRouter(api.Deps{
		Logger:             logger,
		DB:                 pool,
		Redis:              redisClient,
		Idempotency:        idempotency.NewStore(redisClient, repository.New(pool), cfg.IdempotencyTTL),
		Auth:               middleware.NewJWTAuth(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		Merchants:          store.Queries().GetMerchantByAPIKey,
		PublicRateLimitRPS: cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
		Allocator:          allocator,
		Transactions:       transactions,
		Devices:            devices,
		Requisites:         service.NewRequisiteService(store),
		Accounts:           service.NewAccountService(store),
		Reconciliation:     reconciliation,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("stopping background jobs")
	scheduler.Stop(shutdownCtx)
	stopCallbacks()

	logger.Info("shutdown complete")
	return nil
}

// newRateSource picks the upstream named by RATE_SOURCE and fronts it with
// the Redis cache.
func newRateSource(cfg *config.Config, rdb redis.Cmdable) (*rates.Cached, error) {
	var upstream rates.Provider
	switch cfg.RateSource {
	case "static", "":
		upstream = rates.NewStatic(cfg.StaticRate)
	case "cbr":
		upstream = rates.NewCBR(cfg.CBRURL)
	default:
		return nil, fmt.Errorf("unknown rate source %q", cfg.RateSource)
	}
	return rates.NewCached(upstream, rdb, cfg.RateCacheTTL), nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
