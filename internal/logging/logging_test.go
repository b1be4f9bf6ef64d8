package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("debug", &buf)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("order_id", "o-1").Info("order created")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "order created", line["msg"])
	assert.Equal(t, "o-1", line["order_id"])
	assert.Equal(t, "info", line["level"])
}

func TestNewWithOutput_InvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithOutput("chatty", &buf)
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "invalid LOG_LEVEL")
}
