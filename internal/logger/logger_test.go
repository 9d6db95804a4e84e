package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer

	l := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)
	l.Info("dropped")
	l.Warn("kept", zap.String("id", "abc"))
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "abc", entry["id"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewWithWriterConsoleAndBadLevel(t *testing.T) {
	var buf bytes.Buffer

	l := NewWithWriter(Config{Level: "loud", Format: "console"}, &buf)
	l.Debug("hidden")
	l.Info("shown")

	assert.Contains(t, buf.String(), "INFO")
	assert.Contains(t, buf.String(), "shown")
	assert.NotContains(t, buf.String(), "hidden")
}

func TestGlobal(t *testing.T) {
	prev := L()
	defer SetGlobal(prev)

	var buf bytes.Buffer

	SetGlobal(NewWithWriter(Config{Level: "info"}, &buf))
	L().Info("through global")

	assert.Contains(t, buf.String(), "through global")

	var initBuf bytes.Buffer

	Init(Config{Level: "error", Format: "console"}, &initBuf)
	L().Warn("below level")
	L().Error("after init")

	assert.NotContains(t, initBuf.String(), "below level")
	assert.Contains(t, initBuf.String(), "after init")
	assert.NotContains(t, buf.String(), "after init")
}
