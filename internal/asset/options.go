package asset

import (
	"errors"
	"fmt"

	"github.com/dunamismax/assetflow/internal/codec"
)

const (
	DefaultMaxWidth  = 500
	DefaultMaxHeight = 500
	DefaultQuality   = 90
	DefaultFormat    = codec.FormatJPEG
)

var ErrInvalidOptions = errors.New("invalid options")

// Options controls the image branch of the pipeline. Zero fields take the
// package defaults.
type Options struct {
	MaxWidth              int          `json:"max_width,omitempty" mapstructure:"max_width"`
	MaxHeight             int          `json:"max_height,omitempty" mapstructure:"max_height"`
	Quality               int          `json:"quality,omitempty" mapstructure:"quality"`
	Format                codec.Format `json:"format,omitempty" mapstructure:"format"`
	SkipImageOptimization bool         `json:"skip_image_optimization,omitempty" mapstructure:"skip_image_optimization"`
}

func DefaultOptions() Options {
	return Options{
		MaxWidth:  DefaultMaxWidth,
		MaxHeight: DefaultMaxHeight,
		Quality:   DefaultQuality,
		Format:    DefaultFormat,
	}
}

// Validate rejects explicitly invalid values. Zero values are not errors.
func (o Options) Validate() error {
	if o.MaxWidth < 0 {
		return fmt.Errorf("%w: max_width must be positive", ErrInvalidOptions)
	}
	if o.MaxHeight < 0 {
		return fmt.Errorf("%w: max_height must be positive", ErrInvalidOptions)
	}
	if o.Quality < 0 || o.Quality > 100 {
		return fmt.Errorf("%w: quality must be between 1 and 100", ErrInvalidOptions)
	}
	if o.Format != "" {
		if _, err := codec.ParseFormat(string(o.Format)); err != nil {
			return fmt.Errorf("%w: format %q", ErrInvalidOptions, o.Format)
		}
	}
	return nil
}

// withDefaults returns a copy with zero fields filled and the format
// canonicalized. Call Validate first.
func (o Options) withDefaults() Options {
	if o.MaxWidth == 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight == 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.Format == "" {
		o.Format = DefaultFormat
	} else if f, err := codec.ParseFormat(string(o.Format)); err == nil {
		o.Format = f
	}
	return o
}
