package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:       LevelDebug,
		ServiceName: "lexext-test",
		Environment: "test",
		JSONFormat:  true,
		Output:      &buf,
	})

	log.Info("pattern load complete", F("files", 12), F("errors", 0))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pattern load complete", entry["message"])
	assert.Equal(t, "lexext-test", entry["service_name"])
	assert.Equal(t, float64(12), entry["files"])
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelDebug,
		JSONFormat: true,
		Output:     &buf,
	})

	child := log.With(F("document_id", "doc-1"))
	child.Warn("wave retry", F("wave", 2), Err(errors.New("timeout")))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "doc-1", entry["document_id"])
	assert.Equal(t, float64(2), entry["wave"])
	assert.Equal(t, "timeout", entry["error"])
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{
		Level:      LevelDebug,
		JSONFormat: true,
		Output:     &buf,
	})

	ctx := context.WithValue(context.Background(), TraceIDKey, "trace-abc")
	ctx = context.WithValue(ctx, DocumentIDKey, "doc-9")
	log.WithContext(ctx).Info("routing decision made")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "trace-abc", entry["trace_id"])
	assert.Equal(t, "doc-9", entry["document_id"])
}

func TestFieldTypeHandling(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&Config{Level: LevelDebug, JSONFormat: true, Output: &buf})

	log.Info("stats",
		F("duration", 250*time.Millisecond),
		F("rate", 0.92),
		F("open", true),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, 0.92, entry["rate"])
	assert.Equal(t, true, entry["open"])
}

func TestNopLogger(t *testing.T) {
	log := NewNopLogger()
	// Must not panic, must accept chaining.
	log.With(F("k", "v")).WithContext(context.Background()).Error("ignored")
}
