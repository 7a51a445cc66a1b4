package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerIncludesServiceAndStack(t *testing.T) {
	var buf bytes.Buffer
	log := New("tides-test", Options{Level: "debug", Output: &buf})

	log.Error().Stack().Err(errors.New("boom")).Msg("something failed")

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &payload))
	assert.Equal(t, "tides-test", payload["service"])
	assert.Equal(t, "error", payload["level"])
	assert.Equal(t, "boom", payload["error"])
	assert.Contains(t, payload, "stack")
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("tides-test", Options{Level: "WARN", Output: &buf})

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "shown")
}

func TestLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New("tides-test", Options{Level: "chatty", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
}
