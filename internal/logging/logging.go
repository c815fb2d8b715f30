// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	// File, when set, receives a copy of every record.
	File string
	// TimeFormat is a Go layout for the time attribute; empty keeps RFC 3339.
	TimeFormat string
}

// ParseLevel maps a level name to slog. Unknown names are info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger writing to w and, if configured, to cfg.File. The
// returned closer releases the file.
func New(cfg Config, w io.Writer) (*slog.Logger, io.Closer, error) {
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closer = f
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if cfg.TimeFormat != "" {
		layout := cfg.TimeFormat
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(slog.TimeKey, a.Value.Time().Format(layout))
			}
			return a
		}
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// Quiet discards everything below error. Handy in tests.
func Quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
