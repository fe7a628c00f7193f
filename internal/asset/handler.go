// Package asset ingests files from paths, URLs, buffers, streams, blobs and
// object storage, tags them with a MIME type, optionally re-encodes images,
// and exports the result in several representations.
package asset

import (
	"context"
	"fmt"
	"time"

	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Handler runs the pipeline. It holds only collaborators, so one Handler may
// serve concurrent calls.
type Handler struct {
	fetcher Fetcher
	objects ObjectReader
	codec   codec.Codec
	fs      afero.Fs
	logger  zerolog.Logger
}

type HandlerOption func(*Handler)

func WithFetcher(f Fetcher) HandlerOption {
	return func(h *Handler) { h.fetcher = f }
}

func WithObjects(r ObjectReader) HandlerOption {
	return func(h *Handler) { h.objects = r }
}

func WithCodec(c codec.Codec) HandlerOption {
	return func(h *Handler) { h.codec = c }
}

func WithFS(fs afero.Fs) HandlerOption {
	return func(h *Handler) { h.fs = fs }
}

func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.logger = l }
}

func NewHandler(opts ...HandlerOption) (*Handler, error) {
	h := &Handler{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(h)
	}

	if h.codec == nil {
		c, err := codec.New()
		if err != nil {
			return nil, fmt.Errorf("build codec: %w", err)
		}
		h.codec = c
	}
	if h.fetcher == nil {
		h.fetcher = fetch.NewClient(fetch.Config{}, h.logger)
	}
	if h.fs == nil {
		h.fs = afero.NewOsFs()
	}
	return h, nil
}

// Handle resolves in, then re-encodes it when it is an image and
// optimization is not skipped.
func (h *Handler) Handle(ctx context.Context, in Input, opts Options) (*Asset, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	startedAt := time.Now()

	resolver := Resolver{
		Fetcher: h.fetcher,
		FS:      h.fs,
		Objects: h.objects,
		Decoder: h.codec,
	}
	data, mimeType, err := resolver.Resolve(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("resolve stage: %w", err)
	}

	a := newAsset(data, mimeType, h.fs)

	if err := (Transcoder{Codec: h.codec}).Optimize(ctx, a, opts); err != nil {
		return nil, fmt.Errorf("transcode stage: %w", err)
	}

	h.logger.Debug().
		Str("source", InputKind(in)).
		Str("source_type", mimeType).
		Str("mime_type", a.mimeType).
		Int("source_bytes", a.SourceLen()).
		Int("bytes", a.Len()).
		Dur("elapsed", time.Since(startedAt)).
		Msg("asset handled")

	return a, nil
}

// Handle runs the pipeline with a freshly built default Handler.
func Handle(ctx context.Context, in Input, opts Options) (*Asset, error) {
	h, err := NewHandler()
	if err != nil {
		return nil, err
	}
	return h.Handle(ctx, in, opts)
}

func InputKind(in Input) string {
	switch in.(type) {
	case PathInput:
		return "path"
	case URLInput:
		return "url"
	case BufferInput:
		return "buffer"
	case StreamInput:
		return "stream"
	case BlobInput:
		return "blob"
	case ObjectInput:
		return "object"
	default:
		return "unknown"
	}
}
