// Package logger builds the slog.Logger shared by every component.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New returns a text logger on stderr, at debug level when debug is set.
func New(debug bool) *slog.Logger {
	return NewWithOptions(Options{Debug: debug})
}

// Options configures logger construction.
type Options struct {
	Debug  bool
	Format string // "text" (default) or "json"
	Output io.Writer
}

// NewWithOptions builds a logger from opts.
func NewWithOptions(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
