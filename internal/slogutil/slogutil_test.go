package slogutil

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNew_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	logger, closer := New(&buf, Options{Level: "warn"})
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "archive", "a.zip")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "archive=a.zip")
}

func TestNew_FileSink(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "zipxtract.log")

	var buf bytes.Buffer
	logger, closer := New(&buf, Options{Level: "info", File: file, MaxSize: 1})
	logger.With("component", "test").Info("extracted", "files", 3)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record))
	assert.Equal(t, "extracted", record["msg"])
	assert.Equal(t, "test", record["component"])
	assert.InDelta(t, 3, record["files"], 0)
	assert.Contains(t, buf.String(), "extracted")
}
