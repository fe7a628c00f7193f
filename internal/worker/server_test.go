package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/domain"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/dunamismax/assetflow/internal/queue"
	"github.com/dunamismax/assetflow/internal/store"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type memObjects struct {
	mu      sync.Mutex
	written map[string][]byte
	types   map[string]string
}

func (o *memObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.written == nil {
		o.written = map[string][]byte{}
		o.types = map[string]string{}
	}
	o.written[key] = bytes.Clone(data)
	o.types[key] = contentType
	return nil
}

type sentEvent struct {
	endpoint string
	event    string
	payload  any
}

type captureWebhook struct {
	mu     sync.Mutex
	events []sentEvent
	err    error
}

func (w *captureWebhook) Send(_ context.Context, endpoint, event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, sentEvent{endpoint: endpoint, event: event, payload: payload})
	return w.err
}

type failingIngester struct {
	err error
}

func (f failingIngester) Handle(context.Context, asset.Input, asset.Options) (*asset.Asset, error) {
	return nil, f.err
}

type fixture struct {
	server  *Server
	jobs    *store.MemoryJobStore
	objects *memObjects
	hooks   *captureWebhook
}

func newFixture(t *testing.T, ing ingester) fixture {
	t.Helper()

	if ing == nil {
		h, err := asset.NewHandler(asset.WithFS(afero.NewMemMapFs()), asset.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		ing = h
	}

	f := fixture{
		jobs:    store.NewMemoryJobStore(),
		objects: &memObjects{},
		hooks:   &captureWebhook{},
	}
	f.server = &Server{
		logger:        zerolog.Nop(),
		sem:           make(chan struct{}, 2),
		ingester:      ing,
		objects:       f.objects,
		outputPrefix:  "outputs",
		webhookClient: f.hooks,
		jobStore:      f.jobs,
		metrics:       newMetrics(),
		tracer:        noop.NewTracerProvider().Tracer("test"),
	}
	return f
}

func (f fixture) seed(t *testing.T, id string, source domain.SourceSpec) *asynq.Task {
	t.Helper()

	now := time.Now().UTC()
	require.NoError(t, f.jobs.Create(t.Context(), domain.Job{
		ID:        id,
		Status:    domain.JobStatusQueued,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	task, err := queue.NewIngestTask(queue.IngestPayload{
		JobID:       id,
		Source:      source,
		WebhookURL:  "https://hooks.example.com/assets",
		RequestedAt: now,
	})
	require.NoError(t, err)
	return task
}

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHandleIngestStoresOptimizedImage(t *testing.T) {
	f := newFixture(t, nil)
	task := f.seed(t, "job-1", domain.SourceSpec{Kind: domain.SourceKindBase64, Value: pngBase64(t, 1200, 800)})

	require.NoError(t, f.server.handleIngest(t.Context(), task))

	job, ok, err := f.jobs.Get(t.Context(), "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	require.NotNil(t, job.Output)
	assert.Equal(t, "outputs/job-1/asset.jpg", job.Output.ObjectKey)
	assert.Equal(t, "image/jpeg", job.Output.MIMEType)
	assert.True(t, job.Output.IsImage)
	assert.Positive(t, job.Usage.SourceBytes)
	assert.Equal(t, int64(job.Output.Bytes), job.Usage.OutputBytes)
	assert.GreaterOrEqual(t, job.Usage.ComputeTimeMS, int64(1))

	assert.Equal(t, "image/jpeg", f.objects.types["outputs/job-1/asset.jpg"])
	assert.Len(t, f.objects.written["outputs/job-1/asset.jpg"], job.Output.Bytes)

	require.Len(t, f.hooks.events, 1)
	assert.Equal(t, "job.succeeded", f.hooks.events[0].event)
	assert.Equal(t, "https://hooks.example.com/assets", f.hooks.events[0].endpoint)
}

func TestHandleIngestPassesNonImagesThrough(t *testing.T) {
	f := newFixture(t, nil)
	payload := []byte("plain bytes, not an image")
	task := f.seed(t, "job-2", domain.SourceSpec{
		Kind:  domain.SourceKindBase64,
		Value: base64.StdEncoding.EncodeToString(payload),
	})

	require.NoError(t, f.server.handleIngest(t.Context(), task))

	job, _, err := f.jobs.Get(t.Context(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, "outputs/job-2/asset.bin", job.Output.ObjectKey)
	assert.False(t, job.Output.IsImage)
	assert.Equal(t, payload, f.objects.written["outputs/job-2/asset.bin"])
	assert.Equal(t, asset.OctetStream, f.objects.types["outputs/job-2/asset.bin"])
}

func TestHandleIngestCodecFailureSkipsRetry(t *testing.T) {
	f := newFixture(t, nil)
	task := f.seed(t, "job-3", domain.SourceSpec{
		Kind:  domain.SourceKindDataURL,
		Value: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("not really a png")),
	})

	err := f.server.handleIngest(t.Context(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	job, _, getErr := f.jobs.Get(t.Context(), "job-3")
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
	assert.Nil(t, job.Output)
	assert.Empty(t, f.objects.written)

	require.Len(t, f.hooks.events, 1)
	assert.Equal(t, "job.failed", f.hooks.events[0].event)
}

func TestHandleIngestTransientFailureIsRetryable(t *testing.T) {
	f := newFixture(t, failingIngester{err: errors.New("connection reset")})
	task := f.seed(t, "job-4", domain.SourceSpec{Kind: domain.SourceKindURL, Value: "https://example.com/a.png"})

	err := f.server.handleIngest(t.Context(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	job, _, getErr := f.jobs.Get(t.Context(), "job-4")
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
}

func TestHandleIngestWebhookFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t, nil)
	f.hooks.err = errors.New("receiver down")
	task := f.seed(t, "job-5", domain.SourceSpec{Kind: domain.SourceKindBase64, Value: pngBase64(t, 40, 40)})

	require.NoError(t, f.server.handleIngest(t.Context(), task))

	job, _, err := f.jobs.Get(t.Context(), "job-5")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
}

func TestHandleIngestRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t, nil)
	err := f.server.handleIngest(t.Context(), asynq.NewTask(queue.TypeIngestAsset, []byte("nope")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleIngestWaitsForSlot(t *testing.T) {
	f := newFixture(t, nil)
	f.server.sem = make(chan struct{}, 1)
	f.server.sem <- struct{}{}
	task := f.seed(t, "job-6", domain.SourceSpec{Kind: domain.SourceKindBase64, Value: "aGVsbG8="})

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := f.server.handleIngest(ctx, task)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExtensionFor(t *testing.T) {
	tests := map[string]string{
		"image/jpeg":               "jpg",
		"image/png":                "png",
		"IMAGE/WEBP":               "webp",
		"application/octet-stream": "bin",
		"":                         "bin",
		"application/x-unknown-42": "bin",
	}
	for mimeType, want := range tests {
		assert.Equal(t, want, extensionFor(mimeType), mimeType)
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, isPermanent(&asset.CodecError{Op: "decode", Err: errors.New("x")}))
	assert.True(t, isPermanent(fmt.Errorf("resolve stage: %w", &asset.UnsupportedInputError{Value: 1})))
	assert.True(t, isPermanent(fmt.Errorf("wrap: %w", asset.ErrInvalidOptions)))
	assert.True(t, isPermanent(fmt.Errorf("open: %w", os.ErrNotExist)))
	assert.True(t, isPermanent(&fetch.StatusError{URL: "u", StatusCode: 404}))
	assert.False(t, isPermanent(&fetch.StatusError{URL: "u", StatusCode: 503}))
	assert.True(t, isPermanent(fmt.Errorf("execute request: %w", fetch.ErrBlockedAddress)))
	assert.False(t, isPermanent(errors.New("timeout")))
}
