package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/assetflow/internal/api"
	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/dunamismax/assetflow/internal/config"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/dunamismax/assetflow/internal/logging"
	"github.com/dunamismax/assetflow/internal/queue"
	"github.com/dunamismax/assetflow/internal/ratelimit"
	"github.com/dunamismax/assetflow/internal/storage"
	"github.com/dunamismax/assetflow/internal/store"
	"github.com/dunamismax/assetflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", false, "api").Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty, "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-api",
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup tracing")
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()
	defer codec.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		Region:   cfg.Storage.Region,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("create storage client")
	}

	handler, err := asset.NewHandler(
		asset.WithFetcher(fetch.NewClient(fetch.Config{
			Timeout:      cfg.Fetch.Timeout,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
			UserAgent:    cfg.Fetch.UserAgent,

			BlockPrivateNetworks: !cfg.Fetch.AllowPrivateNetworks,
		}, logger)),
		asset.WithObjects(storageClient),
		asset.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("create asset handler")
	}

	jobStore, closeStore := openJobStore(ctx, cfg.Database.DSN, logger)
	defer closeStore()

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("queue client close")
		}
	}()

	deps := api.Dependencies{
		Ingester: handler,
		Queue:    queueClient,
		Jobs:     jobStore,
		Storage:  storageClient,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		assetsCapacity := cfg.RateLimit.AssetsCapacity
		if assetsCapacity <= 0 {
			assetsCapacity = cfg.RateLimit.Capacity
		}
		limiter, err := ratelimit.NewRedisTokenBucket(
			redisClient,
			ratelimit.Policy{Capacity: cfg.RateLimit.Capacity, Window: cfg.RateLimit.Window},
			ratelimit.WithRoutePolicy(api.RouteAssets, ratelimit.Policy{Capacity: assetsCapacity, Window: cfg.RateLimit.Window}),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("create rate limiter")
		}
		deps.RateLimiter = limiter
	}

	app := api.NewServer(logger, deps, api.Options{
		AllowLocalPaths: cfg.API.AllowLocalPaths,
		MaxUploadBytes:  cfg.API.MaxUploadBytes,
	})

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.API.Addr).Bool("allow_local_paths", cfg.API.AllowLocalPaths).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info().Msg("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// openJobStore uses Postgres when a DSN is configured and an in-memory
// store otherwise.
func openJobStore(ctx context.Context, dsn string, logger zerolog.Logger) (store.JobStore, func()) {
	if dsn == "" {
		logger.Warn().Msg("database dsn not set, using in-memory job store")
		return store.NewMemoryJobStore(), func() {}
	}

	pg, err := store.NewPostgresJobStore(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open job store")
	}
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Warn().Err(err).Msg("job store close")
		}
	}
}

