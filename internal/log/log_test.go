package log

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("debug", &buf)
	require.NoError(t, err)

	logger.Component("relay").Info("published", String("reference", "acme"), Int("count", 2), Error(errors.New("x")))

	out := buf.String()
	assert.Contains(t, out, "component=relay")
	assert.Contains(t, out, "reference=acme")
	assert.Contains(t, out, "count=2")
	assert.Contains(t, out, "error=x")
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("warn", &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestInvalidLevel(t *testing.T) {
	_, err := NewWithWriter("loud", &bytes.Buffer{})
	assert.Error(t, err)
}

func TestEmptyLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter("", &buf)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
