package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/wayfarer/internal/config"
)

// -- Test Helper Functions --

// setupTestLogger initializes the global logger with console output going to
// a buffer.
func setupTestLogger(cfg config.LoggerConfig) *bytes.Buffer {
	buf := new(bytes.Buffer)
	initializeLogger(cfg, zapcore.AddSync(buf))
	return buf
}

// resetGlobalLogger restores the singleton so each test can initialize it.
func resetGlobalLogger() {
	once = sync.Once{}
	globalLogger.Store(nil)
}

// -- Test Cases --

func TestInitializeLogger(t *testing.T) {
	t.Run("should initialize console logger with colors", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "wayfarer",
			Colors:      config.ColorConfig{Info: "green"},
		})

		GetLogger().Named("movement").Info("Movement task started.", zap.Int("edges", 3))
		Sync()

		output := buf.String()
		assert.Contains(t, output, "INFO")
		assert.Contains(t, output, "wayfarer.movement")
		assert.Contains(t, output, "Movement task started.")
		assert.Contains(t, output, colorMap["green"], "info level should be colorized green")
		assert.Contains(t, output, colorReset)
	})

	t.Run("should leave levels without a color plain", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", Colors: config.ColorConfig{Warn: "no-such-color"}})

		GetLogger().Warn("Surface busy.")
		Sync()

		assert.Contains(t, buf.String(), "WARN")
		assert.NotContains(t, buf.String(), colorReset)
	})

	t.Run("should initialize json logger", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "JSONTest"})

		GetLogger().Warn("Position diverged.", zap.String("expected", "3,4"))
		Sync()

		var logEntry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry), "log output should be valid JSON")
		assert.Equal(t, "WARN", logEntry["level"])
		assert.Equal(t, "JSONTest", logEntry["logger"])
		assert.Equal(t, "Position diverged.", logEntry["msg"])
		assert.Equal(t, "3,4", logEntry["expected"])
	})

	t.Run("should filter below the configured level", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "warn", Format: "json"})

		GetLogger().Info("dropped")
		Sync()
		assert.Empty(t, buf.String())
	})

	t.Run("should fall back to info on an unknown level", func(t *testing.T) {
		resetGlobalLogger()
		buf := setupTestLogger(config.LoggerConfig{Level: "chatty", Format: "json"})

		GetLogger().Debug("dropped")
		GetLogger().Info("kept")
		Sync()
		assert.NotContains(t, buf.String(), "dropped")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("should write to a log file if configured", func(t *testing.T) {
		resetGlobalLogger()
		logFile := filepath.Join(t.TempDir(), "wayfarer.log")

		setupTestLogger(config.LoggerConfig{Level: "debug", Format: "json", LogFile: logFile, MaxSize: 1})
		GetLogger().Error("Step failed.")
		Sync()

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "Step failed.")
	})

	t.Run("should only initialize once", func(t *testing.T) {
		resetGlobalLogger()
		buf1 := setupTestLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "First"})
		logger1 := GetLogger()

		buf2 := setupTestLogger(config.LoggerConfig{Level: "debug", Format: "console", ServiceName: "Second"})
		logger2 := GetLogger()

		assert.Same(t, logger1, logger2)
		logger2.Info("test message")
		Sync()

		output := buf1.String()
		assert.Contains(t, output, "First")
		assert.Contains(t, output, "test message")
		assert.NotContains(t, output, "Second")
		assert.Empty(t, buf2.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("should return a fallback logger if not initialized", func(t *testing.T) {
		resetGlobalLogger()
		require.NotNil(t, GetLogger())
		assert.Nil(t, globalLogger.Load(), "the fallback must not become the global logger")
	})

	t.Run("should return the global logger after initialization", func(t *testing.T) {
		resetGlobalLogger()
		setupTestLogger(config.LoggerConfig{Level: "info", ServiceName: "GlobalTest"})
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
