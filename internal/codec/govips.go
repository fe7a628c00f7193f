//go:build govips && cgo

package codec

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsCodec struct{}

func (govipsCodec) Decode(ctx context.Context, data []byte) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	format, err := formatFromVips(vips.DetermineImageType(data))
	if err != nil {
		return Metadata{}, err
	}
	if format == FormatBMP {
		return decodeBMPConfig(data)
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return Metadata{}, fmt.Errorf("decode image: %w", err)
	}
	defer img.Close()

	if img.Width() <= 0 || img.Height() <= 0 {
		return Metadata{}, ErrInvalidDimensions
	}
	return Metadata{Width: img.Width(), Height: img.Height(), Format: format}, nil
}

func (govipsCodec) Encode(ctx context.Context, data []byte, opts EncodeOptions) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if vips.DetermineImageType(data) == vips.ImageTypeBMP {
		converted, err := bmpToPNG(data)
		if err != nil {
			return nil, fmt.Errorf("decode source image: %w", err)
		}
		data = converted
	}

	img, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("decode source image: %w", err)
	}
	defer img.Close()

	if opts.Width > 0 && opts.Height > 0 && (img.Width() != opts.Width || img.Height() != opts.Height) {
		if err := img.Thumbnail(opts.Width, opts.Height, vips.InterestingNone); err != nil {
			return nil, fmt.Errorf("resize image: %w", err)
		}
	}

	return exportGovipsImage(img, opts.Format, normalizeQuality(opts.Quality))
}

func formatFromVips(t vips.ImageType) (Format, error) {
	switch t {
	case vips.ImageTypeJPEG:
		return FormatJPEG, nil
	case vips.ImageTypePNG:
		return FormatPNG, nil
	case vips.ImageTypeWEBP:
		return FormatWEBP, nil
	case vips.ImageTypeGIF:
		return FormatGIF, nil
	case vips.ImageTypeTIFF:
		return FormatTIFF, nil
	case vips.ImageTypeAVIF:
		return FormatAVIF, nil
	case vips.ImageTypeBMP:
		return FormatBMP, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func exportGovipsImage(img *vips.ImageRef, format Format, quality int) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatJPEG:
		if img.HasAlpha() {
			if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
				return nil, fmt.Errorf("flatten alpha: %w", err)
			}
		}
		params := vips.NewJpegExportParams()
		params.Quality = quality
		data, _, err = img.ExportJpeg(params)
	case FormatPNG:
		params := vips.NewPngExportParams()
		params.Quality = quality
		data, _, err = img.ExportPng(params)
	case FormatWEBP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err = img.ExportWebp(params)
	case FormatAVIF:
		params := vips.NewAvifExportParams()
		params.Quality = quality
		data, _, err = img.ExportAvif(params)
	case FormatGIF:
		data, _, err = img.ExportGIF(vips.NewGifExportParams())
	case FormatTIFF:
		params := vips.NewTiffExportParams()
		params.Quality = quality
		data, _, err = img.ExportTiff(params)
	case FormatBMP:
		var lossless []byte
		lossless, _, err = img.ExportPng(vips.NewPngExportParams())
		if err == nil {
			data, err = pngToBMP(lossless)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return data, nil
}
