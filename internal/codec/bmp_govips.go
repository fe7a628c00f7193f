//go:build govips && cgo

package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/bmp"
)

// libvips reads and writes BMP only through ImageMagick, so BMP crosses
// into and out of libvips as lossless PNG.

func decodeBMPConfig(data []byte) (Metadata, error) {
	cfg, err := bmp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("decode bmp config: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Metadata{}, ErrInvalidDimensions
	}
	return Metadata{Width: cfg.Width, Height: cfg.Height, Format: FormatBMP}, nil
}

func bmpToPNG(data []byte) ([]byte, error) {
	img, err := bmp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode bmp: %w", err)
	}
	return encodeImage(img, func(buf *bytes.Buffer, img image.Image) error {
		return (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(buf, img)
	})
}

func pngToBMP(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	return encodeImage(img, func(buf *bytes.Buffer, img image.Image) error {
		return bmp.Encode(buf, img)
	})
}

func encodeImage(img image.Image, enc func(*bytes.Buffer, image.Image) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
