package asset

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/stretchr/testify/require"
)

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeCodec decodes to fixed metadata and records the encode call.
type fakeCodec struct {
	mu        sync.Mutex
	meta      codec.Metadata
	decodeErr error
	encodeErr error
	output    []byte
	encoded   []codec.EncodeOptions
}

func (c *fakeCodec) Decode(_ context.Context, data []byte) (codec.Metadata, error) {
	if c.decodeErr != nil {
		return codec.Metadata{}, c.decodeErr
	}
	if len(data) == 0 {
		return codec.Metadata{}, errors.New("empty")
	}
	return c.meta, nil
}

func (c *fakeCodec) Encode(_ context.Context, _ []byte, opts codec.EncodeOptions) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoded = append(c.encoded, opts)
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	return c.output, nil
}

func (c *fakeCodec) calls() []codec.EncodeOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]codec.EncodeOptions(nil), c.encoded...)
}

type fakeObjects struct {
	data        []byte
	contentType string
	err         error
	written     map[string][]byte
	types       map[string]string
}

func (o *fakeObjects) ReadObject(_ context.Context, _ string) ([]byte, string, error) {
	if o.err != nil {
		return nil, "", o.err
	}
	return o.data, o.contentType, nil
}

func (o *fakeObjects) WriteObject(_ context.Context, key string, data []byte, contentType string) error {
	if o.written == nil {
		o.written = map[string][]byte{}
		o.types = map[string]string{}
	}
	o.written[key] = bytes.Clone(data)
	o.types[key] = contentType
	return nil
}
