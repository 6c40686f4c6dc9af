// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Paintersrp/quill/internal/config"
)

// ParseLevel accepts level names or numeric slog levels.
func ParseLevel(value string, defaultLevel slog.Level) slog.Level {
	level := strings.ToLower(strings.TrimSpace(value))
	if level == "" {
		return defaultLevel
	}

	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}

	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n)
	}

	return defaultLevel
}

// New builds a logger from cfg. With no filename the logger writes to
// stderr; otherwise it writes through a rotating file, and verbose mode
// mirrors records to stderr at debug level.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	level := ParseLevel(cfg.Level, slog.LevelInfo)
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if strings.TrimSpace(cfg.Filename) != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		closer = rotating
		w = rotating
		if cfg.Verbose {
			w = io.MultiWriter(rotating, os.Stderr)
		}
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource: level <= slog.LevelDebug,
		Level:     level,
	})

	return slog.New(handler), closer
}

// Configure builds the logger and installs it as the slog default.
func Configure(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	logger, closer := New(cfg)
	slog.SetDefault(logger)
	return logger, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
