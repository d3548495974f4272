package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithConfig_DefaultsToInfoLevel(t *testing.T) {
	InitWithConfig(Config{Level: "info"})
	assert.True(t, Log.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, Log.Enabled(context.Background(), slog.LevelDebug))
}

func TestInitWithConfig_DebugLevelEnablesDebug(t *testing.T) {
	InitWithConfig(Config{Level: "debug"})
	assert.True(t, Log.Enabled(context.Background(), slog.LevelDebug))
}

func TestInitWithConfig_TextFormatWritesKeyValueLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "text.log")
	InitWithConfig(Config{Level: "info", Format: "text", Output: "file", FilePath: path})
	Log.Info("hello", "key", "value")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
	assert.Contains(t, string(data), "key=value")
}

func TestInitWithConfig_FileOutputCreatesParentDirAndWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "ionbridge.log")
	InitWithConfig(Config{Level: "info", Format: "json", Output: "file", FilePath: path})
	Log.Info("file sink test")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "file sink test")
}

func TestForMessage_AttachesCorrelationFields(t *testing.T) {
	var buf bytes.Buffer
	Log = slog.New(slog.NewJSONHandler(&buf, nil))
	l := ForMessage("adt-router", "msg-1", "corr-1")
	l.Info("processed")

	out := buf.String()
	assert.Contains(t, out, `"host":"adt-router"`)
	assert.Contains(t, out, `"message_id":"msg-1"`)
	assert.Contains(t, out, `"correlation_id":"corr-1"`)
}

func TestWithContext_AttachesAmbientArgs(t *testing.T) {
	var buf bytes.Buffer
	Log = slog.New(slog.NewJSONHandler(&buf, nil))
	l := WithContext(context.Background(), "trace_id", "abc123")
	l.Info("traced")

	assert.Contains(t, buf.String(), `"trace_id":"abc123"`)
}
