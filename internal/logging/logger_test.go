package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogReplicationRunEmitsStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("desengine", "info", "json")
	l.SetOutput(&buf)

	l.LogReplicationRun(context.Background(), 3, 4003, 10000.5, 0)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "desengine", line["service"])
	assert.Equal(t, float64(3), line["replication_index"])
	assert.Equal(t, float64(4003), line["seed"])
}

func TestTraceIDContextRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", GetTraceID(ctx))
	assert.Equal(t, "", GetTraceID(context.Background()))
}

func TestDefaultLoggerFallback(t *testing.T) {
	assert.NotNil(t, Default())
}
