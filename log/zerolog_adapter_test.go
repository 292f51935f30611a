package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologAdapter_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel).With(Fields{"component": "tokens"})

	logger.Error(context.Background(), "token refresh failed", errors.New("invalid_grant"), Fields{"user_id": "42"})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "token refresh failed", line["message"])
	assert.Equal(t, "invalid_grant", line["error"])
	assert.Equal(t, "42", line["user_id"])
	assert.Equal(t, "tokens", line["component"])
	assert.NotContains(t, line, "trace_id")
}

func TestZerologAdapter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.InfoLevel)

	logger.Debug(context.Background(), "hidden")
	assert.Empty(t, buf.String())

	logger.Info(context.Background(), "shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Warn(context.Background(), "discarded", Fields{"k": "v"})
	})
}
