package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetWriter(&buf)
	t.Cleanup(func() {
		SetWriter(os.Stdout)
		SetLevel("INFO")
		_ = SetFormat("text")
	})
	return &buf
}

func TestSetLevel(t *testing.T) {
	t.Run("FiltersBelowLevel", func(t *testing.T) {
		buf := captureOutput(t)
		SetLevel("WARN")

		Info("hidden %d", 1)
		Warn("shown %d", 2)

		assert.NotContains(t, buf.String(), "hidden 1")
		assert.Contains(t, buf.String(), "shown 2")
	})

	t.Run("CaseInsensitive", func(t *testing.T) {
		captureOutput(t)
		SetLevel("debug")
		assert.Equal(t, LevelDebug, CurrentLevel())
	})

	t.Run("UnknownIgnored", func(t *testing.T) {
		captureOutput(t)
		SetLevel("ERROR")
		SetLevel("verbose")
		assert.Equal(t, LevelError, CurrentLevel())
	})
}

func TestSetFormat(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		buf := captureOutput(t)
		require.NoError(t, SetFormat("json"))

		Error("boom %s", "now")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "boom now", line["msg"])
		assert.Equal(t, "error", line["level"])
	})

	t.Run("Unknown", func(t *testing.T) {
		captureOutput(t)
		assert.Error(t, SetFormat("xml"))
	})
}

func TestSetOutputFile(t *testing.T) {
	captureOutput(t)
	path := filepath.Join(t.TempDir(), "ldap.log")

	require.NoError(t, SetOutput(path))
	Info("to file")
	require.NoError(t, SetOutput("stdout"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(42).String())
}
