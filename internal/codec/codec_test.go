package codec

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "jpg", want: FormatJPEG},
		{in: " JPEG ", want: FormatJPEG},
		{in: "webp", want: FormatWEBP},
		{in: "tif", want: FormatTIFF},
		{in: "avif", want: FormatAVIF},
		{in: "heic", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseFormat(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatMIMETypeAndExtension(t *testing.T) {
	assert.Equal(t, "image/jpeg", FormatJPEG.MIMEType())
	assert.Equal(t, "jpg", FormatJPEG.Extension())
	assert.Equal(t, "image/webp", FormatWEBP.MIMEType())
	assert.Equal(t, "webp", FormatWEBP.Extension())
}

func TestDecodeReportsDimensionsAndFormat(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	meta, err := c.Decode(context.Background(), buildTestPNG(t, 64, 32))
	require.NoError(t, err)
	assert.Equal(t, Metadata{Width: 64, Height: 32, Format: FormatPNG}, meta)
}

func TestDecodeRejectsNonImage(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	_, err = c.Decode(context.Background(), []byte("%PDF-1.7 not an image"))
	require.Error(t, err)
}

func TestEncodeResizesAndConverts(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	out, err := c.Encode(context.Background(), buildTestPNG(t, 200, 100), EncodeOptions{
		Format:  FormatJPEG,
		Quality: 80,
		Width:   100,
		Height:  50,
	})
	require.NoError(t, err)

	meta, err := c.Decode(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, Metadata{Width: 100, Height: 50, Format: FormatJPEG}, meta)
}

func TestEncodeKeepsDimensionsWithoutTarget(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	out, err := c.Encode(context.Background(), buildTestPNG(t, 40, 30), EncodeOptions{Format: FormatPNG})
	require.NoError(t, err)

	meta, err := c.Decode(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 40, meta.Width)
	assert.Equal(t, 30, meta.Height)
}

func TestEncodeWebP(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	out, err := c.Encode(context.Background(), buildTestPNG(t, 48, 48), EncodeOptions{Format: FormatWEBP, Quality: 75})
	if errors.Is(err, ErrUnsupportedFormat) {
		t.Skip("webp encoder not available in this build")
	}
	require.NoError(t, err)

	meta, err := c.Decode(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, FormatWEBP, meta.Format)
}

func TestBMPRoundTrip(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	bmpData, err := c.Encode(context.Background(), buildTestPNG(t, 40, 20), EncodeOptions{Format: FormatBMP})
	require.NoError(t, err)

	meta, err := c.Decode(context.Background(), bmpData)
	require.NoError(t, err)
	assert.Equal(t, Metadata{Width: 40, Height: 20, Format: FormatBMP}, meta)

	out, err := c.Encode(context.Background(), bmpData, EncodeOptions{Format: FormatPNG, Width: 20, Height: 10})
	require.NoError(t, err)
	meta, err = c.Decode(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, Metadata{Width: 20, Height: 10, Format: FormatPNG}, meta)
}

func TestEncodeHonoursCanceledContext(t *testing.T) {
	c, err := New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = c.Encode(ctx, buildTestPNG(t, 8, 8), EncodeOptions{Format: FormatPNG})
	require.ErrorIs(t, err, context.Canceled)
}

func buildTestPNG(t *testing.T, w, h int) []byte {
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
