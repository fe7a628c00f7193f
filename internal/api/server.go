package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/dunamismax/assetflow/internal/domain"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/dunamismax/assetflow/internal/id"
	"github.com/dunamismax/assetflow/internal/queue"
	"github.com/dunamismax/assetflow/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	ExportRaw     = "raw"
	ExportBase64  = "base64"
	ExportDataURL = "data_url"

	defaultMaxUploadBytes = 32 << 20
	defaultPresignTTL     = 15 * time.Minute
)

type Server struct {
	logger                zerolog.Logger
	ingester              ingester
	queueClient           queueEnqueuer
	jobStore              store.JobStore
	storage               objectStorage
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	allowLocalPaths       bool
	maxUploadBytes        int64
	presignTTL            time.Duration
	metrics               *metrics
	tracer                trace.Tracer
	router                chi.Router
}

type ingester interface {
	Handle(ctx context.Context, in asset.Input, opts asset.Options) (*asset.Asset, error)
}

type queueEnqueuer interface {
	EnqueueIngest(ctx context.Context, payload queue.IngestPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Dependencies are the collaborators a Server delegates to. Queue, Jobs,
// Storage and RateLimiter may be nil; the routes that need them then
// report the feature as unavailable.
type Dependencies struct {
	Ingester    ingester
	Queue       queueEnqueuer
	Jobs        store.JobStore
	Storage     objectStorage
	RateLimiter RateLimiter
}

type Options struct {
	AllowLocalPaths       bool
	MaxUploadBytes        int64
	PresignTTL            time.Duration
	RateLimitUserIDHeader string
}

func NewServer(logger zerolog.Logger, deps Dependencies, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = defaultPresignTTL
	}
	if strings.TrimSpace(opts.RateLimitUserIDHeader) == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		ingester:              deps.Ingester,
		queueClient:           deps.Queue,
		jobStore:              deps.Jobs,
		storage:               deps.Storage,
		rateLimiter:           deps.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		allowLocalPaths:       opts.AllowLocalPaths,
		maxUploadBytes:        opts.MaxUploadBytes,
		presignTTL:            opts.PresignTTL,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("assetflow/api"),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		s.withTracing,
		s.metrics.withHTTPMetrics,
		s.withRequestLogging,
	)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.With(s.withRateLimit(RouteAssets)).Post("/assets", s.handleIngestAsset)
		r.With(s.withRateLimit(RouteJobs)).Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{id}", s.handleGetJob)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestAssetRequest struct {
	Source  domain.SourceSpec `json:"source"`
	Options asset.Options     `json:"options"`
	Export  string            `json:"export,omitempty"`
}

type assetResponse struct {
	MIMEType string `json:"mime_type,omitempty"`
	IsImage  bool   `json:"is_image"`
	Bytes    int    `json:"bytes"`
	Data     string `json:"data"`
}

// handleIngestAsset runs the pipeline inline. A JSON body names the source;
// any other body is the asset itself, with options in the query string.
func (s *Server) handleIngestAsset(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion is unavailable")
		return
	}

	var (
		in         asset.Input
		opts       asset.Options
		export     string
		sourceKind string
	)

	if isJSON(r) {
		var req ingestAssetRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ingest := domain.IngestRequest{Source: req.Source, Options: req.Options}
		if err := ingest.Validate(s.allowLocalPaths); err != nil {
			writeValidationError(w, err)
			return
		}
		source, err := req.Source.ToInput()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in, opts, export = source, req.Options, req.Export
		sourceKind = strings.ToLower(req.Source.Kind)
		if export == "" {
			export = ExportDataURL
		}
	} else {
		parsed, err := optionsFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in = asset.StreamInput{Reader: http.MaxBytesReader(w, r.Body, s.maxUploadBytes)}
		opts = parsed
		export = r.URL.Query().Get("export")
		sourceKind = "upload"
		if export == "" {
			export = ExportRaw
		}
	}

	export = strings.ToLower(strings.TrimSpace(export))
	if export != ExportRaw && export != ExportBase64 && export != ExportDataURL {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported export: %s", export))
		return
	}

	a, err := s.ingester.Handle(r.Context(), in, opts)
	if err != nil {
		status := statusForIngestError(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("source_kind", sourceKind).Msg("ingest failed")
		}
		writeError(w, status, err.Error())
		return
	}
	s.metrics.assetsIngested.WithLabelValues(sourceKind, strconv.FormatBool(a.IsImage())).Inc()

	blob := a.ToBlob()
	w.Header().Set("X-Assetflow-Image", strconv.FormatBool(a.IsImage()))
	switch export {
	case ExportRaw:
		w.Header().Set("Content-Type", blob.Type)
		w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(blob.Data)
	case ExportBase64:
		writeJSON(w, http.StatusOK, newAssetResponse(a, a.ToBase64()))
	default:
		writeJSON(w, http.StatusOK, newAssetResponse(a, a.ToBase64URL()))
	}
}

func newAssetResponse(a *asset.Asset, data string) assetResponse {
	mimeType, _ := a.MIMEType()
	return assetResponse{
		MIMEType: mimeType,
		IsImage:  a.IsImage(),
		Bytes:    a.Len(),
		Data:     data,
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil || s.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, "job processing is unavailable")
		return
	}

	var req domain.IngestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Validate(s.allowLocalPaths); err != nil {
		writeValidationError(w, err)
		return
	}
	if err := s.verifySourceExists(r.Context(), req.Source); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:         id.New(),
		Status:     domain.JobStatusCreated,
		Source:     req.Source,
		Options:    req.Options,
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	logger := s.logger.With().Str("job_id", job.ID).Logger()

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		logger.Error().Err(err).Msg("create job failed")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	taskInfo, err := s.queueClient.EnqueueIngest(r.Context(), queue.IngestPayload{
		JobID:       job.ID,
		Source:      job.Source,
		Options:     job.Options,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		logger.Error().Err(err).Msg("enqueue failed")
		if _, failErr := s.jobStore.Complete(r.Context(), job.ID, domain.Result{
			Status: domain.JobStatusFailed,
			Error:  "enqueue failed",
		}); failErr != nil {
			logger.Error().Err(failErr).Msg("mark job failed")
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		logger.Error().Err(err).Msg("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     job.ID,
		"status":     domain.JobStatusQueued,
		"queue":      taskInfo.Queue,
		"task_id":    taskInfo.ID,
		"status_url": "/v1/jobs/" + job.ID,
	})
}

type jobResponse struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	Source     string          `json:"source_kind"`
	Options    asset.Options   `json:"options"`
	WebhookURL string          `json:"webhook_url,omitempty"`
	Output     *outputResponse `json:"output,omitempty"`
	Usage      domain.Usage    `json:"usage"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type outputResponse struct {
	domain.Output
	DownloadURL string `json:"download_url,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, "job processing is unavailable")
		return
	}

	jobID := chi.URLParam(r, "id")
	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("fetch job failed")
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	resp := jobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		Source:     job.Source.Kind,
		Usage:      job.Usage,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
		Options:    job.Options,
		WebhookURL: job.WebhookURL,
	}
	if job.Output != nil {
		out := &outputResponse{Output: *job.Output}
		if s.storage != nil {
			url, err := s.storage.PresignedGetURL(r.Context(), job.Output.ObjectKey, s.presignTTL)
			if err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("presign output failed")
			} else {
				out.DownloadURL = url
			}
		}
		resp.Output = out
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) verifySourceExists(ctx context.Context, source domain.SourceSpec) error {
	if !strings.EqualFold(source.Kind, domain.SourceKindObject) {
		return nil
	}
	if s.storage == nil {
		return errors.New("object storage is unavailable")
	}
	exists, err := s.storage.ObjectExists(ctx, source.Value)
	if err != nil {
		return fmt.Errorf("source object check failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("source object is missing: %s", source.Value)
	}
	return nil
}

func optionsFromQuery(r *http.Request) (asset.Options, error) {
	q := r.URL.Query()
	var opts asset.Options

	ints := []struct {
		name string
		dst  *int
	}{
		{"max_width", &opts.MaxWidth},
		{"max_height", &opts.MaxHeight},
		{"quality", &opts.Quality},
	}
	for _, f := range ints {
		raw := q.Get(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return asset.Options{}, fmt.Errorf("invalid %s: %q", f.name, raw)
		}
		*f.dst = v
	}

	if raw := q.Get("skip_image_optimization"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return asset.Options{}, fmt.Errorf("invalid skip_image_optimization: %q", raw)
		}
		opts.SkipImageOptimization = v
	}
	opts.Format = codec.Format(q.Get("format"))

	if err := opts.Validate(); err != nil {
		return asset.Options{}, err
	}
	return opts, nil
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func statusForIngestError(err error) int {
	var (
		unsupported *asset.UnsupportedInputError
		codecErr    *asset.CodecError
		maxBytes    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &unsupported), errors.Is(err, asset.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.As(err, &codecErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return statusForSourceError(err)
}

func statusForSourceError(err error) int {
	var statusErr *fetch.StatusError
	switch {
	case errors.As(err, &statusErr), errors.Is(err, fetch.ErrBodyTooLarge):
		return http.StatusBadGateway
	case errors.Is(err, fetch.ErrBlockedAddress):
		return http.StatusForbidden
	case errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, asset.ErrFetcherRequired), errors.Is(err, asset.ErrObjectsRequired):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeValidationError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrLocalPathsDisabled) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 64 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
