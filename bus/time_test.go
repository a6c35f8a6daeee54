package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTCTimeMarshalsCanonically(t *testing.T) {
	madrid, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	local := time.Date(2025, 3, 1, 11, 30, 15, 250_000_000, madrid)
	out, err := json.Marshal(NewUTCTime(local))
	require.NoError(t, err)

	// Madrid is UTC+1 in March.
	assert.Equal(t, `"2025-03-01T10:30:15.250Z"`, string(out))
}

func TestUTCTimeRoundTrip(t *testing.T) {
	in := NewUTCTime(time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC))
	out, err := json.Marshal(in)
	require.NoError(t, err)

	var back UTCTime
	require.NoError(t, json.Unmarshal(out, &back))
	assert.True(t, in.Equal(back.Time), "got %v, want %v", back.Time, in.Time)
}

func TestUTCTimeAcceptsOffsets(t *testing.T) {
	var parsed UTCTime
	require.NoError(t, json.Unmarshal([]byte(`"2025-03-01T11:30:15+01:00"`), &parsed))
	assert.Equal(t, time.Date(2025, 3, 1, 10, 30, 15, 0, time.UTC), parsed.Time)
}
