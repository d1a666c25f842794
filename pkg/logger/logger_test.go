package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wprank/backend/pkg/config"
)

func swapLog(t *testing.T, l *zap.Logger) {
	t.Helper()
	prev := Log
	Log = l
	t.Cleanup(func() {
		Log = prev
		_ = SetLevel("info")
	})
}

func TestFromContextFallsBackToProcessLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	swapLog(t, zap.New(core))

	FromContext(context.Background()).Info("no fields")

	require.Equal(t, 1, logs.Len())
	assert.Empty(t, logs.All()[0].Context)
}

func TestWithAccumulatesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	swapLog(t, zap.New(core))

	worker := With(context.Background(), zap.Int("worker", 1))
	item := With(worker, zap.String("item_id", "abc"), zap.String("domain", "example.com"))

	FromContext(item).Info("Queue item processed")
	FromContext(worker).Info("Worker idle")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{
		"worker":  int64(1),
		"item_id": "abc",
		"domain":  "example.com",
	}, entries[0].ContextMap())
	assert.Equal(t, map[string]interface{}{"worker": int64(1)}, entries[1].ContextMap())
}

func TestInitRejectsInvalidSettings(t *testing.T) {
	swapLog(t, Log)

	assert.Error(t, Init(config.LoggingConfig{Level: "loud", Format: "json"}))
	assert.Error(t, Init(config.LoggingConfig{Level: "info", Format: "xml"}))
	assert.Error(t, Init(config.LoggingConfig{Level: "info", Format: "json", OutputPath: filepath.Join(t.TempDir(), "missing", "x.log")}))
}

func TestInitWritesJSONWithRuntimeLevel(t *testing.T) {
	swapLog(t, Log)
	path := filepath.Join(t.TempDir(), "wprank.log")

	require.NoError(t, Init(config.LoggingConfig{Level: "info", Format: "json", OutputPath: path}))

	ctx := With(context.Background(), zap.String("job", "rerank"))
	Info("hello", zap.String("k", "v"))
	Debug("hidden")
	FromContext(ctx).Warn("from job")

	require.NoError(t, SetLevel("debug"))
	FromContext(ctx).Debug("now visible")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	assert.Contains(t, lines[0], `"message":"hello"`)
	assert.Contains(t, lines[0], `"service":"wprank"`)
	assert.Contains(t, lines[0], `"caller":"logger/logger_test.go`)
	assert.Contains(t, lines[1], `"job":"rerank"`)
	assert.Contains(t, lines[1], `"caller":"logger/logger_test.go`)
	assert.Contains(t, lines[2], `"message":"now visible"`)
	assert.NotContains(t, string(data), "hidden")

	assert.Error(t, SetLevel("loud"))
}
