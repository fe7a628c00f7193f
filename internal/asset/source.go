package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/dunamismax/assetflow/internal/dataurl"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/spf13/afero"
)

var (
	ErrFetcherRequired = errors.New("fetcher is required for url input")
	ErrObjectsRequired = errors.New("object reader is required for object input")
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Response, error)
}

// ObjectReader returns the object bytes and the content type it was stored
// with.
type ObjectReader interface {
	ReadObject(ctx context.Context, key string) ([]byte, string, error)
}

// Resolver turns an Input into bytes plus a MIME type. A nil FS means the OS
// filesystem.
type Resolver struct {
	Fetcher Fetcher
	FS      afero.Fs
	Objects ObjectReader
	Decoder Decoder
}

// Resolve returns an empty MIME type only for URL inputs whose response had
// no Content-Type header.
func (r Resolver) Resolve(ctx context.Context, in Input) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	switch in := in.(type) {
	case URLInput:
		if r.Fetcher == nil {
			return nil, "", ErrFetcherRequired
		}
		res, err := r.Fetcher.Fetch(ctx, in.URL)
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", in.URL, err)
		}
		return res.Body, res.ContentType, nil

	case PathInput:
		fs := r.FS
		if fs == nil {
			fs = afero.NewOsFs()
		}
		data, err := afero.ReadFile(fs, in.Path)
		if err != nil {
			return nil, "", fmt.Errorf("read input file %s: %w", in.Path, err)
		}
		return data, TypeByExtension(in.Path), nil

	case BufferInput:
		data := bytes.Clone(in.Data)
		if data == nil {
			data = []byte{}
		}
		return data, Sniff(ctx, r.Decoder, data), nil

	case StreamInput:
		if in.Reader == nil {
			return nil, "", &UnsupportedInputError{Value: in}
		}
		data, err := drain(ctx, in.Reader)
		if err != nil {
			return nil, "", fmt.Errorf("drain stream: %w", err)
		}
		return data, Sniff(ctx, r.Decoder, data), nil

	case BlobInput:
		data := bytes.Clone(in.Blob.Data)
		if data == nil {
			data = []byte{}
		}
		mimeType := dataurl.CanonicalType(in.Blob.Type)
		if mimeType == "" {
			mimeType = OctetStream
		}
		return data, mimeType, nil

	case ObjectInput:
		if r.Objects == nil {
			return nil, "", ErrObjectsRequired
		}
		data, contentType, err := r.Objects.ReadObject(ctx, in.Key)
		if err != nil {
			return nil, "", err
		}
		if contentType == "" || contentType == OctetStream {
			contentType = Sniff(ctx, r.Decoder, data)
		}
		return data, contentType, nil

	default:
		return nil, "", &UnsupportedInputError{Value: in}
	}
}

// drain reads r to EOF in chunks, checking ctx between reads.
func drain(ctx context.Context, r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := r.Read(chunk)
		buf.Write(chunk[:n])
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}
