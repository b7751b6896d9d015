// Package logging builds the process logger from config.LoggingConfig:
// console output, a rotated main log file and a rotated warn+ file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/syntrixbase/chunkdex/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	mainLogName  = "chunkdex.log"
	errorLogName = "errors.log"
)

var (
	// open log files, closed by Shutdown
	logFiles   []io.Closer
	logFilesMu sync.Mutex
)

// Initialize sets up the global logger based on configuration
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	slog.SetDefault(logger)

	slog.Info("Logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"dir", cfg.Dir,
		"console_enabled", cfg.Console.Enabled,
		"file_enabled", cfg.File.Enabled,
		"dedup_window", cfg.DedupWindow,
	)
	return nil
}

// NewLogger creates a new logger instance with the given configuration
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, createHandler(os.Stdout, cfg.Console.Format, parseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		mainFile := rotatedFile(cfg, mainLogName)
		handlers = append(handlers, createHandler(mainFile, cfg.File.Format, parseLevel(cfg.File.Level)))

		errorFile := rotatedFile(cfg, errorLogName)
		handlers = append(handlers, NewLevelFilter(createHandler(errorFile, cfg.File.Format, slog.LevelWarn), slog.LevelWarn))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, nil)
	case 1:
		handler = handlers[0]
	default:
		handler = NewMultiHandler(handlers...)
	}

	if cfg.DedupWindow > 0 {
		handler = NewDedupHandler(handler, cfg.DedupWindow)
	}
	return slog.New(handler), nil
}

// Shutdown closes all log files opened by NewLogger
func Shutdown() error {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()

	var firstErr error
	for _, f := range logFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log file: %w", err)
		}
	}
	logFiles = nil
	return firstErr
}

func rotatedFile(cfg config.LoggingConfig, name string) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	}

	logFilesMu.Lock()
	logFiles = append(logFiles, f)
	logFilesMu.Unlock()
	return f
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
