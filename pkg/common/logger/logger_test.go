package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesStructuredRecord(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "gate", func(context.Context) string { return "trace-1" })

	log.With("component", "engine").Info(context.Background(), "session started", "gate_id", "g1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "session started", rec["msg"])
	assert.Equal(t, "gate", rec["service"])
	assert.Equal(t, "engine", rec["component"])
	assert.Equal(t, "g1", rec["gate_id"])
	assert.Equal(t, "trace-1", rec["trace_id"])
}

func TestLogger_RespectsMinLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, LevelWarn, "gate", nil)

	log.Info(context.Background(), "dropped")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "kept")
	assert.NotZero(t, buf.Len())
}

func TestLogger_ErrorEventFires(t *testing.T) {
	var got Record
	events := Events{Error: func(_ context.Context, r Record) { got = r }}
	log := NewWithMetadata(&bytes.Buffer{}, LevelDebug, "gate", nil, events, map[string]string{"site": "s1"})

	log.Error(context.Background(), "bridge down", "attempt", 3)

	assert.Equal(t, "bridge down", got.Message)
	assert.Equal(t, LevelError, got.Level)
	assert.EqualValues(t, 3, got.Attributes["attempt"])
}

func TestLoggerContext_AccumulatesAttributes(t *testing.T) {
	var buf bytes.Buffer
	lc := NewLoggerContext(New(&buf, LevelDebug, "gate", nil))
	lc.Add("session_id", "abc")

	lc.Info(context.Background(), "tick")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "abc", rec["session_id"])
}

func TestNoop_DiscardsEverything(t *testing.T) {
	log := Noop().With("k", "v")
	log.Error(context.Background(), "nothing")
}
