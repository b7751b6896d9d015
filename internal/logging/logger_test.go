package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/chunkdex/internal/config"
)

func testLoggingConfig(t *testing.T) config.LoggingConfig {
	cfg := config.DefaultLoggingConfig()
	cfg.Dir = t.TempDir()
	cfg.Console.Enabled = false
	cfg.DedupWindow = 0
	return cfg
}

func TestNewLogger_FileOutput(t *testing.T) {
	cfg := testLoggingConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("indexer running", "indexer", "transfers")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "chunkdex.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "indexer running")
	assert.Contains(t, string(content), "indexer=transfers")

	// lumberjack creates files lazily
	assert.NoFileExists(t, filepath.Join(cfg.Dir, "errors.log"))
}

func TestNewLogger_JSONFormat(t *testing.T) {
	cfg := testLoggingConfig(t)
	cfg.File.Format = "json"

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("test json", "key", "value")
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "chunkdex.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), `"msg":"test json"`)
	assert.Contains(t, string(content), `"key":"value"`)
}

func TestNewLogger_ErrorLogSeparation(t *testing.T) {
	cfg := testLoggingConfig(t)

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	logger.Info("info message")
	logger.Warn("warning message")
	logger.Error("error message")
	require.NoError(t, Shutdown())

	errs, err := os.ReadFile(filepath.Join(cfg.Dir, "errors.log"))
	require.NoError(t, err)
	assert.NotContains(t, string(errs), "info message")
	assert.Contains(t, string(errs), "warning message")
	assert.Contains(t, string(errs), "error message")

	main, err := os.ReadFile(filepath.Join(cfg.Dir, "chunkdex.log"))
	require.NoError(t, err)
	assert.Contains(t, string(main), "info message")
}

func TestNewLogger_Dedup(t *testing.T) {
	cfg := testLoggingConfig(t)
	cfg.DedupWindow = 1 << 40

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		logger.Warn("indexing step failed", "indexer", "transfers")
	}
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "chunkdex.log"))
	require.NoError(t, err)
	assert.Equal(t, 1, countLines(string(content)))
}

func TestNewLogger_NoOutputs(t *testing.T) {
	cfg := testLoggingConfig(t)
	cfg.File.Enabled = false

	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotPanics(t, func() { logger.Info("dropped") })
}

func TestNewLogger_BadDir(t *testing.T) {
	cfg := testLoggingConfig(t)
	file := filepath.Join(cfg.Dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	cfg.Dir = filepath.Join(file, "sub")

	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestInitialize(t *testing.T) {
	orig := slog.Default()
	defer slog.SetDefault(orig)

	cfg := testLoggingConfig(t)
	require.NoError(t, Initialize(cfg))
	require.NoError(t, Shutdown())

	content, err := os.ReadFile(filepath.Join(cfg.Dir, "chunkdex.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "Logging initialized")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func countLines(s string) int {
	n := 0
	for _, c := range s {
		if c == '\n' {
			n++
		}
	}
	return n
}
