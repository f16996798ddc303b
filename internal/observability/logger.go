// Package observability provides logging, metrics and build metadata.
package observability

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds a leveled, timestamped logger writing to w (stderr when nil).
// Unknown levels fall back to info.
func NewLogger(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "trace":
		lvl = zerolog.TraceLevel
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	case "disabled", "off":
		lvl = zerolog.Disabled
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// NewConsoleLogger is NewLogger with human-readable output.
func NewConsoleLogger(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return NewLogger(level, zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"})
}
