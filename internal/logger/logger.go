// Package logger installs the process-wide slog handler.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/crystaldolphin/qqadapter/internal/config"
)

// Init installs a slog default handler writing to stdout and, when
// cfg.File is set, to a rotating log file. Debug level uses the text
// handler; every other level uses JSON.
func Init(cfg config.LogConfig) (io.Closer, error) {
	level := parseLevel(cfg.Level)

	writers := []io.Writer{os.Stdout}
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fileWriter)
		closer = fileWriter
	}
	out := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if level == slog.LevelDebug {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))
	return closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// ForBot returns the default logger tagged with a bot identity.
func ForBot(appID string) *slog.Logger {
	return slog.Default().With("bot", appID)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
