package slogx

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
)

// ParseLevel maps a textual level to a slog.Level, falling back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a slog.Logger backed by zerolog. With pretty set the output is
// human readable console text, otherwise one JSON object per line.
func NewLogger(out io.Writer, level string, pretty bool) *slog.Logger {
	var zl zerolog.Logger
	if pretty {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Stamp})
	} else {
		zl = zerolog.New(out)
	}
	zl = zl.With().Timestamp().Logger()

	return slog.New(zeroslog.NewHandler(zl, &zeroslog.HandlerOptions{Level: ParseLevel(level)}))
}

// Setup installs a zerolog backed logger as the slog default and returns it.
func Setup(out io.Writer, level string, pretty bool) *slog.Logger {
	logger := NewLogger(out, level, pretty)
	slog.SetDefault(logger)
	return logger
}
