package asset

import (
	"context"
	"errors"
	"math"

	"github.com/dunamismax/assetflow/internal/codec"
)

// Transcoder re-encodes image assets according to Options.
type Transcoder struct {
	Codec codec.Codec
}

// Optimize runs only for image assets when optimization is not skipped. It
// resizes to fit inside the bounds when either is exceeded, always re-encodes
// to the target format and quality, and rewrites the type tag to match.
func (t Transcoder) Optimize(ctx context.Context, a *Asset, opts Options) error {
	if !a.IsImage() || opts.SkipImageOptimization {
		return nil
	}
	opts = opts.withDefaults()

	if t.Codec == nil {
		return &CodecError{Op: "decode", MIMEType: a.mimeType, Err: errors.New("codec is required")}
	}

	meta, err := t.Codec.Decode(ctx, a.data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &CodecError{Op: "decode", MIMEType: a.mimeType, Err: err}
	}

	enc := codec.EncodeOptions{Format: opts.Format, Quality: opts.Quality}
	if w, h, resize := FitInside(meta.Width, meta.Height, opts.MaxWidth, opts.MaxHeight); resize {
		enc.Width, enc.Height = w, h
	}

	out, err := t.Codec.Encode(ctx, a.data, enc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &CodecError{Op: "encode", MIMEType: a.mimeType, Err: err}
	}

	a.data = out
	a.mimeType = opts.Format.MIMEType()
	return nil
}

// FitInside scales width x height down to fit within maxWidth x maxHeight,
// preserving aspect ratio. It never enlarges; resize is false when the
// source already fits.
func FitInside(width, height, maxWidth, maxHeight int) (w, h int, resize bool) {
	if width <= 0 || height <= 0 || maxWidth <= 0 || maxHeight <= 0 {
		return width, height, false
	}
	if width <= maxWidth && height <= maxHeight {
		return width, height, false
	}

	scale := math.Min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	w = clamp(int(math.Round(float64(width)*scale)), 1, maxWidth)
	h = clamp(int(math.Round(float64(height)*scale)), 1, maxHeight)
	return w, h, true
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
