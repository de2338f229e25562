package utils

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "debug", "json").WithField("component", "ledger")

	logger.WithFields(map[string]interface{}{"account": "acc-1"}).Info("balance %d", 42)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "balance 42", line["msg"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "ledger", line["component"])
	assert.Equal(t, "acc-1", line["account"])
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", "text")

	logger.Info("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")

	buf.Reset()
	newLogger(&buf, "not-a-level", "text").Info("fallback to info")
	assert.Contains(t, buf.String(), "fallback to info")
}
