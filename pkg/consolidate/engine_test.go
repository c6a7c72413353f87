package consolidate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotarchive/pkg/measure"
	"iotarchive/pkg/store"
	"iotarchive/pkg/store/memory"
)

func TestSelectWindow(t *testing.T) {
	hot := memory.New()
	ctx := context.Background()

	_, _, err := SelectWindow(ctx, hot, "temp/room1", 10*time.Minute)
	assert.ErrorIs(t, err, store.ErrNotFound, "no samples at all")

	// Old data: the window has long since closed.
	old := tempSample("2024-01-01T12:00:00", 20.0)
	require.NoError(t, hot.Insert(ctx, old.ID, old))

	start, end, err := SelectWindow(ctx, hot, "temp/room1", 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T12:00:00", measure.FormatStamp(start))
	assert.Equal(t, 10*time.Minute, end.Sub(start))
}

func TestSelectWindowNotReady(t *testing.T) {
	hot := memory.New()
	ctx := context.Background()

	// The earliest sample is one minute old; a ten-minute window is
	// still filling.
	recent := tempSample(measure.FormatStamp(time.Now().Add(-time.Minute)), 20.0)
	require.NoError(t, hot.Insert(ctx, recent.ID, recent))

	_, _, err := SelectWindow(ctx, hot, "temp/room1", 10*time.Minute)
	assert.ErrorIs(t, err, ErrWindowNotReady)
}

func engineFixture(t *testing.T) (*Engine, *memory.Store, *memory.Store) {
	t.Helper()
	hot := memory.New()
	cold := memory.New()
	e := New(Config{Window: 3 * time.Minute, Idle: time.Millisecond}, hot, cold, tempDevice(t))
	return e, hot, cold
}

func TestConsolidateOnceEndToEnd(t *testing.T) {
	e, hot, cold := engineFixture(t)
	ctx := context.Background()

	for _, s := range []measure.Sample{
		tempSample("2024-01-01T12:00:00", 20.0),
		tempSample("2024-01-01T12:01:00", 20.5),
		tempSample("2024-01-01T12:02:00", 21.0),
	} {
		require.NoError(t, hot.Insert(ctx, s.ID, s))
	}

	ok, err := e.ConsolidateOnce(ctx, "temp/room1")
	require.NoError(t, err)
	assert.True(t, ok)

	// The hot store holds no samples for the window and the cold store
	// holds exactly one record with the derived id.
	assert.Equal(t, 0, hot.Len())
	assert.Equal(t, 1, cold.Len())

	var record measure.Record
	_, err = cold.Get(ctx, "temp/room1@2024-01-01T12:01:00", &record)
	require.NoError(t, err)
	assert.InDelta(t, 20.5, record.Value, 1e-9)

	// Nothing left to consolidate.
	ok, err = e.ConsolidateOnce(ctx, "temp/room1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), e.Stats().Windows)
}

func TestDrainTopicConsumesAllFullWindows(t *testing.T) {
	e, hot, cold := engineFixture(t)
	ctx := context.Background()

	// Two full three-minute windows of old data plus one sample still
	// inside an open window.
	stamps := []string{
		"2024-01-01T12:00:00", "2024-01-01T12:01:00", "2024-01-01T12:02:00",
		"2024-01-01T12:04:00", "2024-01-01T12:05:00", "2024-01-01T12:06:00",
	}
	for i, stamp := range stamps {
		s := tempSample(stamp, 20+float64(i))
		require.NoError(t, hot.Insert(ctx, s.ID, s))
	}
	open := tempSample(measure.FormatStamp(time.Now().Add(-time.Minute)), 19.0)
	require.NoError(t, hot.Insert(ctx, open.ID, open))

	e.DrainTopic(ctx, "temp/room1")

	assert.Equal(t, 2, cold.Len())
	assert.Equal(t, 1, hot.Len(), "the open window's sample survives")
	assert.Equal(t, uint64(2), e.Stats().Windows)
}
