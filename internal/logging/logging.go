package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger tagged with the component name. Unknown levels fall
// back to info.
func New(level string, pretty bool, component string) zerolog.Logger {
	return NewWriter(os.Stdout, level, pretty, component)
}

// NewWriter is New with an explicit destination.
func NewWriter(w io.Writer, level string, pretty bool, component string) zerolog.Logger {
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}
