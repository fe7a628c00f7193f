// Package codec decodes image containers and re-encodes them with optional
// resizing. Two backends exist: a pure Go one built on imaging and x/image,
// and a libvips one selected with the govips build tag.
package codec

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidDimensions = errors.New("invalid image dimensions")
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatWEBP Format = "webp"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
	FormatAVIF Format = "avif"
)

// ParseFormat accepts common spellings ("jpg", "JPEG", " tif ") and returns
// the canonical format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	case "gif":
		return FormatGIF, nil
	case "webp":
		return FormatWEBP, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	case "avif":
		return FormatAVIF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func (f Format) MIMEType() string {
	return "image/" + string(f)
}

func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

type Metadata struct {
	Width  int
	Height int
	Format Format
}

// EncodeOptions describes the output of Encode. Width and Height of zero keep
// the source dimensions.
type EncodeOptions struct {
	Format  Format
	Quality int
	Width   int
	Height  int
}

type Codec interface {
	Decode(ctx context.Context, data []byte) (Metadata, error)
	Encode(ctx context.Context, data []byte, opts EncodeOptions) ([]byte, error)
}

// New returns the codec selected at build time.
func New() (Codec, error) {
	return newCodec()
}

func normalizeQuality(quality int) int {
	if quality <= 0 || quality > 100 {
		return 90
	}
	return quality
}
