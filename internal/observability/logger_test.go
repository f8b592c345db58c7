// internal/observability/logger_test.go
package observability

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/visa-resched/internal/config"
)

// -- Test Cases --

func TestInitialize(t *testing.T) {
	t.Run("ConsoleWithColors", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{
			Level:       "debug",
			Format:      "console",
			ServiceName: "visa-resched",
			Colors:      config.ColorConfig{Info: "green"},
		}, zapcore.AddSync(&buf))
		GetLogger().Named("workflow").Info("Stage finished.", zap.Uint64("run_id", 1))
		Sync()

		out := buf.String()
		assert.Contains(t, out, colorMap["green"]+"INFO"+colorReset)
		assert.Contains(t, out, "visa-resched.workflow.")
		assert.Contains(t, out, "Stage finished.")
		assert.Contains(t, out, `"run_id": 1`)
	})

	t.Run("JSON", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "svc"}, zapcore.AddSync(&buf))
		GetLogger().Warn("Found an earlier date! 2025-06-01", zap.String("consular_id", "25"))
		GetLogger().Debug("filtered out")
		Sync()

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "exactly one JSON line expected, got %q", buf.String())
		assert.Equal(t, "WARN", entry["level"])
		assert.Equal(t, "svc", entry["logger"])
		assert.Equal(t, "25", entry["consular_id"])
	})

	t.Run("RotatedFileCopy", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		path := filepath.Join(t.TempDir(), "resched.log")

		Initialize(config.LoggerConfig{Level: "debug", Format: "console", LogFile: path, MaxSize: 1}, zapcore.AddSync(&bytes.Buffer{}))
		GetLogger().Error("Run failed.")
		Sync()

		content, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(content), `"msg":"Run failed."`, "file output is always JSON")
	})

	t.Run("InvalidLevelFallsBackToInfo", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var buf bytes.Buffer

		Initialize(config.LoggerConfig{Level: "loud", Format: "json"}, zapcore.AddSync(&buf))
		GetLogger().Debug("hidden")
		GetLogger().Info("shown")
		Sync()

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("OnlyOnce", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		var first, second bytes.Buffer

		Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"}, zapcore.AddSync(&first))
		l1 := GetLogger()
		Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "second"}, zapcore.AddSync(&second))
		l2 := GetLogger()

		assert.Same(t, l1, l2)
		l2.Info("test")
		Sync()
		assert.Contains(t, first.String(), `"logger":"first"`)
		assert.Empty(t, second.String())
	})
}

func TestGetLogger(t *testing.T) {
	t.Run("FallbackBeforeInitialization", func(t *testing.T) {
		ResetForTest()
		assert.NotNil(t, GetLogger())
	})

	t.Run("ReturnsGlobalAfterInitialization", func(t *testing.T) {
		ResetForTest()
		t.Cleanup(ResetForTest)
		Initialize(config.LoggerConfig{Level: "info"}, zapcore.AddSync(&bytes.Buffer{}))
		assert.Same(t, globalLogger.Load(), GetLogger())
	})
}
