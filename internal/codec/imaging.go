//go:build !govips || !cgo

package codec

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type imagingCodec struct{}

func (imagingCodec) Decode(ctx context.Context, data []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Metadata{}, fmt.Errorf("decode image config: %w", err)
	}
	format, err := ParseFormat(name)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: %s", err, name)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Metadata{}, ErrInvalidDimensions
	}

	return Metadata{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

func (imagingCodec) Encode(ctx context.Context, data []byte, opts EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}

	img := src
	if opts.Width > 0 && opts.Height > 0 {
		b := src.Bounds()
		if b.Dx() != opts.Width || b.Dy() != opts.Height {
			img = imaging.Resize(src, opts.Width, opts.Height, imaging.Lanczos)
		}
	}

	quality := normalizeQuality(opts.Quality)
	var buf bytes.Buffer
	switch opts.Format {
	case FormatJPEG:
		err = imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(quality))
	case FormatPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case FormatGIF:
		err = imaging.Encode(&buf, img, imaging.GIF)
	case FormatTIFF:
		err = imaging.Encode(&buf, img, imaging.TIFF)
	case FormatBMP:
		err = imaging.Encode(&buf, img, imaging.BMP)
	case FormatWEBP:
		err = encodeWebP(&buf, img, quality)
	case FormatAVIF:
		return nil, fmt.Errorf("%w: avif export requires govips build tag", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", opts.Format, err)
	}

	return buf.Bytes(), nil
}

// flatten composites img onto an opaque white canvas; JPEG has no alpha.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
