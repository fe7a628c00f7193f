package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/dunamismax/assetflow/internal/config"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/dunamismax/assetflow/internal/logging"
	"github.com/dunamismax/assetflow/internal/storage"
	"github.com/dunamismax/assetflow/internal/store"
	"github.com/dunamismax/assetflow/internal/telemetry"
	"github.com/dunamismax/assetflow/internal/webhook"
	"github.com/dunamismax/assetflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", false, "worker").Fatal().Err(err).Msg("load config")
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Pretty, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  cfg.Telemetry.ServiceName + "-worker",
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

	if err := codec.Startup(); err != nil {
		logger.Fatal().Err(err).Msg("start image codec")
	}
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
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ensure bucket")
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

	var jobStore store.JobStore = store.NewMemoryJobStore()
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresJobStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("open job store")
		}
		defer pg.Close()
		jobStore = pg
	} else {
		logger.Warn().Msg("database dsn not set, job status will not be visible to the api")
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, handler, storageClient, webhookClient, jobStore)
	if err != nil {
		logger.Fatal().Err(err).Msg("create worker")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Int("concurrency", cfg.Worker.Concurrency).
		Int("max_active_jobs", cfg.Worker.MaxActiveJobs).
		Str("queue", cfg.Queue.Name).
		Str("redis", cfg.Queue.RedisAddr).
		Msg("starting worker")

	if err := srv.Run(); err != nil {
		logger.Fatal().Err(err).Msg("worker failed")
	}
}
