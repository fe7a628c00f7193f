package worker

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/dunamismax/assetflow/internal/config"
	"github.com/dunamismax/assetflow/internal/domain"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/dunamismax/assetflow/internal/queue"
	"github.com/dunamismax/assetflow/internal/store"
	"github.com/dunamismax/assetflow/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errInvalidSource = errors.New("invalid job source")

type Server struct {
	logger        zerolog.Logger
	server        *asynq.Server
	sem           chan struct{}
	ingester      ingester
	objects       asset.ObjectWriter
	outputPrefix  string
	webhookClient webhookSender
	jobStore      store.JobStore
	metrics       *metrics
	tracer        trace.Tracer
}

type ingester interface {
	Handle(ctx context.Context, in asset.Input, opts asset.Options) (*asset.Asset, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger zerolog.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	handler *asset.Handler,
	objects asset.ObjectWriter,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
) (*Server, error) {
	if handler == nil {
		return nil, fmt.Errorf("asset handler is required")
	}
	if objects == nil {
		return nil, fmt.Errorf("object writer is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				Logger:   asynqLogger{logger: logger.With().Str("subsystem", "asynq").Logger()},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Warn().
						Err(err).
						Str("type", task.Type()).
						Int("retry", retried).
						Int("max_retry", maxRetry).
						Msg("task failed")
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		ingester:      handler,
		objects:       objects,
		outputPrefix:  workerCfg.OutputPrefix,
		webhookClient: webhookClient,
		jobStore:      jobStore,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("assetflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeIngestAsset, s.handleIngest)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleIngest(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseIngestPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	sourceKind := strings.ToLower(payload.Source.Kind)
	logger := s.logger.With().Str("job_id", payload.JobID).Str("source_kind", sourceKind).Logger()

	ctx, span := s.tracer.Start(ctx, "worker.ingest_asset", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_kind", sourceKind),
		attribute.String("job.format", string(payload.Options.Format)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(sourceKind, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(sourceKind, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	logger.Info().Msg("ingesting asset")
	s.updateJobStatus(ctx, logger, payload.JobID, domain.JobStatusProcessing)

	output, usage, err := s.ingest(ctx, payload)
	usage.ComputeTimeMS = max(1, time.Since(startedAt).Milliseconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")

		permanent := isPermanent(err)
		if !permanent && !finalAttempt(ctx) {
			outcome = "retrying"
			logger.Warn().Err(err).Msg("ingest failed, will retry")
			return fmt.Errorf("ingest: %w", err)
		}

		s.complete(ctx, logger, payload.JobID, domain.Result{
			Status: domain.JobStatusFailed,
			Usage:  usage,
			Error:  err.Error(),
		})
		s.dispatchWebhook(ctx, logger, payload, webhook.EventJobFailed, map[string]any{
			"job_id":       payload.JobID,
			"status":       domain.JobStatusFailed,
			"source":       payload.Source,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		})
		if permanent {
			return fmt.Errorf("ingest: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("ingest: %w", err)
	}

	s.complete(ctx, logger, payload.JobID, domain.Result{
		Status: domain.JobStatusSucceeded,
		Output: &output,
		Usage:  usage,
	})
	s.metrics.sourceBytesTotal.Add(float64(usage.SourceBytes))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))

	logger.Info().
		Str("object_key", output.ObjectKey).
		Str("mime_type", output.MIMEType).
		Int("bytes", output.Bytes).
		Msg("asset stored")

	s.dispatchWebhook(ctx, logger, payload, webhook.EventJobSucceeded, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source":       payload.Source,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       output,
	})

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "ingested")
	return nil
}

// ingest runs the pipeline for one job and stores the result.
func (s *Server) ingest(ctx context.Context, payload queue.IngestPayload) (domain.Output, domain.Usage, error) {
	var usage domain.Usage

	in, err := payload.Source.ToInput()
	if err != nil {
		return domain.Output{}, usage, fmt.Errorf("%w: %v", errInvalidSource, err)
	}

	a, err := s.ingester.Handle(ctx, in, payload.Options)
	if err != nil {
		return domain.Output{}, usage, err
	}
	usage.SourceBytes = int64(a.SourceLen())
	usage.OutputBytes = int64(a.Len())

	mimeType, _ := a.MIMEType()
	key := outputKey(s.outputPrefix, payload.JobID, mimeType)
	if _, err := a.ToObject(ctx, s.objects, key); err != nil {
		return domain.Output{}, usage, fmt.Errorf("store output: %w", err)
	}

	if a.IsImage() && !payload.Options.SkipImageOptimization {
		s.metrics.imagesTranscodedTotal.Inc()
	}

	return domain.Output{
		ObjectKey: key,
		MIMEType:  mimeType,
		Bytes:     a.Len(),
		IsImage:   a.IsImage(),
	}, usage, nil
}

func (s *Server) updateJobStatus(ctx context.Context, logger zerolog.Logger, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		logger.Error().Err(err).Str("status", status).Msg("job status update failed")
	}
}

func (s *Server) complete(ctx context.Context, logger zerolog.Logger, jobID string, result domain.Result) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.Complete(ctx, jobID, result); err != nil {
		logger.Error().Err(err).Str("status", result.Status).Msg("job completion update failed")
	}
}

// dispatchWebhook delivers a job event. A failed delivery is logged and
// counted but does not fail the job, since the output is already stored.
func (s *Server) dispatchWebhook(ctx context.Context, logger zerolog.Logger, payload queue.IngestPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailuresTotal.Inc()
		logger.Warn().Err(err).Str("event", event).Msg("webhook delivery failed")
	}
}

// outputKey builds <prefix>/<job_id>/asset.<ext>.
func outputKey(prefix, jobID, mimeType string) string {
	return path.Join(strings.Trim(prefix, "/"), jobID, "asset."+extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" || mimeType == asset.OctetStream {
		return "bin"
	}
	if sub, ok := strings.CutPrefix(mimeType, "image/"); ok {
		if f, err := codec.ParseFormat(sub); err == nil {
			return f.Extension()
		}
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	return "bin"
}

// isPermanent reports whether retrying err cannot succeed.
func isPermanent(err error) bool {
	var (
		unsupported *asset.UnsupportedInputError
		codecErr    *asset.CodecError
		statusErr   *fetch.StatusError
	)
	switch {
	case errors.As(err, &unsupported), errors.As(err, &codecErr):
		return true
	case errors.Is(err, errInvalidSource),
		errors.Is(err, asset.ErrInvalidOptions),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, fetch.ErrBodyTooLarge),
		errors.Is(err, fetch.ErrBlockedAddress):
		return true
	case errors.As(err, &statusErr):
		return statusErr.StatusCode >= 400 && statusErr.StatusCode < 500
	}
	return false
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
