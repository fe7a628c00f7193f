package asset

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bogusInput struct{}

func (bogusInput) isInput() {}

func TestResolvePath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/in/photo.JPG", []byte("jpeg bytes"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/notes.unknownext", []byte("notes"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/in/noext", []byte("raw"), 0o644))

	r := Resolver{FS: fs}

	tests := []struct {
		path     string
		wantData string
		wantType string
	}{
		{path: "/in/photo.JPG", wantData: "jpeg bytes", wantType: "image/jpeg"},
		{path: "/in/notes.unknownext", wantData: "notes", wantType: OctetStream},
		{path: "/in/noext", wantData: "raw", wantType: OctetStream},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			data, mimeType, err := r.Resolve(context.Background(), PathInput{Path: tc.path})
			require.NoError(t, err)
			assert.Equal(t, []byte(tc.wantData), data)
			assert.Equal(t, tc.wantType, mimeType)
		})
	}
}

func TestResolvePathMissingFile(t *testing.T) {
	r := Resolver{FS: afero.NewMemMapFs()}
	_, _, err := r.Resolve(context.Background(), PathInput{Path: "/missing.png"})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveURL(t *testing.T) {
	png := buildTestPNG(t, 4, 4)

	tests := []struct {
		name        string
		contentType string
		wantType    string
	}{
		{name: "declared type", contentType: "image/png", wantType: "image/png"},
		{name: "malformed type kept", contentType: "image png??", wantType: "image png??"},
		{name: "missing type", contentType: "", wantType: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header()["Content-Type"] = nil
				if tc.contentType != "" {
					w.Header().Set("Content-Type", tc.contentType)
				}
				_, _ = w.Write(png)
			}))
			defer srv.Close()

			r := Resolver{Fetcher: fetch.NewClient(fetch.Config{}, zerolog.Nop()), Decoder: &fakeCodec{meta: codec.Metadata{Format: codec.FormatPNG}}}
			data, mimeType, err := r.Resolve(context.Background(), URLInput{URL: srv.URL})
			require.NoError(t, err)
			assert.Equal(t, png, data)
			assert.Equal(t, tc.wantType, mimeType)
		})
	}
}

func TestResolveURLPropagatesFetchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := Resolver{Fetcher: fetch.NewClient(fetch.Config{}, zerolog.Nop())}
	_, _, err := r.Resolve(context.Background(), URLInput{URL: srv.URL})

	var statusErr *fetch.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestResolveURLWithoutFetcher(t *testing.T) {
	_, _, err := Resolver{}.Resolve(context.Background(), URLInput{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrFetcherRequired)
}

func TestResolveBufferSniffs(t *testing.T) {
	dec := &fakeCodec{meta: codec.Metadata{Width: 1, Height: 1, Format: codec.FormatGIF}}
	src := []byte("GIF89a...")

	data, mimeType, err := Resolver{Decoder: dec}.Resolve(context.Background(), BufferInput{Data: src})
	require.NoError(t, err)
	assert.Equal(t, "image/gif", mimeType)
	assert.Equal(t, src, data)

	src[0] = 'X'
	assert.Equal(t, byte('G'), data[0], "resolved buffer must not alias the caller's slice")
}

func TestResolveBufferFallsBackToOctetStream(t *testing.T) {
	dec := &fakeCodec{decodeErr: errors.New("not an image")}
	_, mimeType, err := Resolver{Decoder: dec}.Resolve(context.Background(), BufferInput{Data: []byte{0x00, 0x01}})
	require.NoError(t, err)
	assert.Equal(t, OctetStream, mimeType)
}

func TestResolveStreamDrainsInOrder(t *testing.T) {
	payload := strings.Repeat("0123456789", 10_000)
	readers := map[string]io.Reader{
		"one byte":  iotest.OneByteReader(strings.NewReader(payload)),
		"half":      iotest.HalfReader(strings.NewReader(payload)),
		"data eof":  iotest.DataErrReader(strings.NewReader(payload)),
		"plain":     strings.NewReader(payload),
		"multipart": io.MultiReader(strings.NewReader(payload[:7]), strings.NewReader(payload[7:])),
	}

	for name, reader := range readers {
		t.Run(name, func(t *testing.T) {
			dec := &fakeCodec{decodeErr: errors.New("not an image")}
			data, mimeType, err := Resolver{Decoder: dec}.Resolve(context.Background(), StreamInput{Reader: reader})
			require.NoError(t, err)
			assert.Equal(t, payload, string(data))
			assert.Equal(t, OctetStream, mimeType)
		})
	}
}

func TestResolveStreamPropagatesReadError(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := Resolver{}.Resolve(context.Background(), StreamInput{Reader: iotest.ErrReader(boom)})
	require.ErrorIs(t, err, boom)
}

func TestResolveBlob(t *testing.T) {
	data, mimeType, err := Resolver{}.Resolve(context.Background(), BlobInput{Blob: Blob{Data: []byte("x"), Type: "text/csv"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
	assert.Equal(t, "text/csv", mimeType)

	_, mimeType, err = Resolver{}.Resolve(context.Background(), BlobInput{Blob: Blob{Data: []byte("x")}})
	require.NoError(t, err)
	assert.Equal(t, OctetStream, mimeType)
}

func TestResolveObject(t *testing.T) {
	objects := &fakeObjects{data: []byte("pdf"), contentType: "application/pdf"}
	data, mimeType, err := Resolver{Objects: objects}.Resolve(context.Background(), ObjectInput{Key: "uploads/a"})
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf"), data)
	assert.Equal(t, "application/pdf", mimeType)

	objects = &fakeObjects{data: []byte("png"), contentType: OctetStream}
	dec := &fakeCodec{meta: codec.Metadata{Width: 1, Height: 1, Format: codec.FormatPNG}}
	_, mimeType, err = Resolver{Objects: objects, Decoder: dec}.Resolve(context.Background(), ObjectInput{Key: "uploads/b"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
}

func TestResolveObjectWithoutReader(t *testing.T) {
	_, _, err := Resolver{}.Resolve(context.Background(), ObjectInput{Key: "k"})
	require.ErrorIs(t, err, ErrObjectsRequired)
}

func TestResolveUnsupportedInput(t *testing.T) {
	for _, in := range []Input{bogusInput{}, nil, StreamInput{}} {
		_, _, err := Resolver{}.Resolve(context.Background(), in)
		var unsupported *UnsupportedInputError
		require.ErrorAs(t, err, &unsupported)
	}
}

func TestResolveCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Resolver{}.Resolve(ctx, BufferInput{Data: []byte("x")})
	require.ErrorIs(t, err, context.Canceled)
}
