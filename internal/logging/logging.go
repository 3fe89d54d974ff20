// Package logging provides structured logging infrastructure for the
// orchestrator.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
)

// NewFromConfig creates a new slog.Logger based on configuration.
// If a log file is configured, output goes to both stderr and the file;
// the returned closer owns the file handle.
func NewFromConfig(cfg *config.Config, baseDir string) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)
	handler := newHandler(cfg.Logging.Format, os.Stderr, level)

	var closer io.Closer
	if logPath := cfg.LogFile(baseDir); logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, nil, err
		}

		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, nil, err
		}
		closer = file

		multi := io.MultiWriter(os.Stderr, file)
		handler = newHandler(cfg.Logging.Format, multi, level)
	}

	return slog.New(handler), closer, nil
}

// NewDefault creates a default logger writing JSON to stderr.
func NewDefault() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// NewWithLevel creates a logger with the specified level.
func NewWithLevel(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func newHandler(format config.LogFormat, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == config.LogFormatText {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
