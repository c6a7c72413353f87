package measure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocID(t *testing.T) {
	id := DocID("temp/room1", "2024-01-01T12:00:00")
	assert.Equal(t, "temp/room1@2024-01-01T12:00:00", id)
}

func TestStampRoundTrip(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 30, 45, 0, time.Local)
	stamp := FormatStamp(ts)
	assert.Equal(t, "2024-01-01T12:30:45", stamp)

	parsed, err := ParseStamp(stamp)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}

func TestFormatStampDropsFraction(t *testing.T) {
	ts := time.Date(2024, 1, 1, 12, 30, 45, 999_000_000, time.Local)
	assert.Equal(t, "2024-01-01T12:30:45", FormatStamp(ts))
}

func TestParseStampRejectsGarbage(t *testing.T) {
	_, err := ParseStamp("not-a-timestamp")
	assert.Error(t, err)

	// Fractions are not part of the document format.
	_, err = ParseStamp("2024-01-01T12:30:45.123")
	assert.Error(t, err)
}

func TestSampleTime(t *testing.T) {
	s := Sample{Timestamp: "2024-06-15T08:00:00"}
	ts, err := s.Time()
	require.NoError(t, err)
	assert.Equal(t, 8, ts.Hour())
}
