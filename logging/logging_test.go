package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "json")

	log.Info().Str("episode_id", "ep-1").Msg("episode created")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "ep-1", line["episode_id"])
	assert.Equal(t, "episode created", line["message"])
	assert.Contains(t, line, "time")
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "text")

	log.Warn().Str("code", "unknown_grd").Msg("GRD not found")

	assert.Contains(t, buf.String(), "GRD not found")
	assert.Contains(t, buf.String(), "unknown_grd")
}

func TestWithLevel(t *testing.T) {
	var buf bytes.Buffer
	log := WithLevel(New(&buf, "json"), "warn")

	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	fallback := WithLevel(New(&buf, "json"), "loud")
	fallback.Debug().Msg("debug dropped")
	fallback.Info().Msg("info kept")
	assert.NotContains(t, buf.String(), "debug dropped")
	assert.Contains(t, buf.String(), "info kept")
}
