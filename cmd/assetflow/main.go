// Command assetflow ingests one file, URL or stdin stream, optionally
// re-encodes it when it is an image, and writes the result to a file or
// prints it as base64 or a data URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dunamismax/assetflow/internal/asset"
	"github.com/dunamismax/assetflow/internal/codec"
	"github.com/dunamismax/assetflow/internal/config"
	"github.com/dunamismax/assetflow/internal/fetch"
	"github.com/dunamismax/assetflow/internal/logging"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
)

const (
	printNone    = "none"
	printBase64  = "base64"
	printDataURL = "data-url"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, afero.NewOsFs()); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "assetflow:", err)
		}
		codec.Shutdown()
		os.Exit(1)
	}
	codec.Shutdown()
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, fs afero.Fs) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	defaults := cfg.Ingest.Options()

	flags := pflag.NewFlagSet("assetflow", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	out := flags.StringP("out", "o", "", "write the result to this file")
	printAs := flags.StringP("print", "p", "", "print the result to stdout as base64, data-url or none (default data-url without --out)")
	format := flags.StringP("format", "f", string(defaults.Format), "target image format")
	maxWidth := flags.Int("max-width", defaults.MaxWidth, "maximum output width in pixels")
	maxHeight := flags.Int("max-height", defaults.MaxHeight, "maximum output height in pixels")
	quality := flags.IntP("quality", "q", defaults.Quality, "encoder quality 1-100")
	skip := flags.Bool("skip-optimize", defaults.SkipImageOptimization, "keep image bytes unchanged")
	logLevel := flags.String("log-level", "warn", "log level")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: assetflow [flags] <path|url|->")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("exactly one source is required")
	}

	mode := strings.ToLower(strings.TrimSpace(*printAs))
	if mode == "" {
		mode = printDataURL
		if *out != "" {
			mode = printNone
		}
	}
	if mode != printNone && mode != printBase64 && mode != printDataURL {
		return fmt.Errorf("unsupported --print value %q", *printAs)
	}

	logger := logging.NewWriter(stderr, *logLevel, true, "cli")
	handler, err := asset.NewHandler(
		asset.WithFetcher(fetch.NewClient(fetch.Config{
			Timeout:      cfg.Fetch.Timeout,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
			UserAgent:    cfg.Fetch.UserAgent,
		}, logger)),
		asset.WithFS(fs),
		asset.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	source := flags.Arg(0)
	var in asset.Input
	if source == "-" {
		in = asset.StreamInput{Reader: stdin}
	} else {
		in = asset.FromString(source)
	}

	a, err := handler.Handle(ctx, in, asset.Options{
		MaxWidth:              *maxWidth,
		MaxHeight:             *maxHeight,
		Quality:               *quality,
		Format:                codec.Format(*format),
		SkipImageOptimization: *skip,
	})
	if err != nil {
		return err
	}

	if *out != "" {
		if _, err := a.SaveFile(*out); err != nil {
			return err
		}
		mimeType, _ := a.MIMEType()
		logger.Info().Str("path", *out).Str("mime_type", mimeType).Int("bytes", a.Len()).Msg("wrote asset")
	}

	switch mode {
	case printBase64:
		_, err = fmt.Fprintln(stdout, a.ToBase64())
	case printDataURL:
		_, err = fmt.Fprintln(stdout, a.ToBase64URL())
	}
	return err
}
