package invalidation

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The wire format is a cross-instance contract: field names and the kind
// strings must stay exactly as every peer expects them.
func TestEvent_WireFormat(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	e := Event{Key: "u:7", Type: KindUpdate, Timestamp: ts, Source: "web-1"}

	payload, err := e.Marshal()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(payload, &raw))
	assert.Equal(t, "u:7", raw["Key"])
	assert.Equal(t, "Update", raw["Type"])
	assert.Equal(t, "2025-06-01T12:30:00Z", raw["Timestamp"])
	assert.Equal(t, "web-1", raw["Source"])
}

func TestEvent_SourceOmittedWhenEmpty(t *testing.T) {
	t.Parallel()

	payload, err := NewEvent(KindRemove, "k", "").Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "Source")
}

// Consumers must tolerate unknown fields from newer publishers.
func TestEvent_UnknownFieldsTolerated(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"Key":"x","Type":"Remove","Timestamp":"2025-06-01T00:00:00Z","Source":"a","Shard":3,"Extra":{"nested":true}}`)
	e, err := Unmarshal(payload)
	require.NoError(t, err)
	assert.Equal(t, "x", e.Key)
	assert.Equal(t, KindRemove, e.Type)
}

func TestEvent_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, NewEvent(KindExpire, "k", "").Valid())
	assert.False(t, Event{Key: ""}.Valid())
	assert.False(t, Event{Key: "  \t"}.Valid())
}
