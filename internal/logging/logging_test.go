package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn", slog.LevelInfo))
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, ParseLevel("", slog.LevelInfo))
	assert.Equal(t, slog.LevelError, ParseLevel("loud", slog.LevelError))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, Options{Format: FormatAuto, Level: slog.LevelDebug}, Resolve(true, "", ""))
	assert.Equal(t, Options{Format: FormatJSON, Level: slog.LevelInfo}, Resolve(false, "json", ""))
	assert.Equal(t, Options{Format: FormatText, Level: slog.LevelError}, Resolve(true, "tint", "error"))
}

func TestNew_AutoIsJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Format: FormatAuto, Level: slog.LevelInfo, Writer: &buf})
	log.Debug("hidden")
	log.Info("format stored", "format", "CF_TEXT", "seq", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "format stored", rec["msg"])
	assert.Equal(t, "CF_TEXT", rec["format"])
	assert.EqualValues(t, 3, rec["seq"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Format: FormatText, Level: slog.LevelInfo, Writer: &buf}).Info("process attached")
	assert.Contains(t, buf.String(), "process attached")
}
