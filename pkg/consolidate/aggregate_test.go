package consolidate

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotarchive/pkg/devices"
	"iotarchive/pkg/measure"
	"iotarchive/pkg/store/memory"
)

// tempDevice installs dev1 with accuracy 0.1 for temperatures in [0, 100).
func tempDevice(t *testing.T) *devices.Resolver {
	t.Helper()
	s := memory.New()
	doc := map[string]any{
		"temperature": map[string]any{
			"accuracy": []map[string]any{
				{"range_inf": 0.0, "range_sup": 100.0, "value": 0.1},
			},
		},
	}
	require.NoError(t, s.Insert(context.Background(), "dev1", doc))
	return devices.NewResolver(s)
}

func tempSample(stamp string, value float64) measure.Sample {
	return measure.Sample{
		ID:        measure.DocID("temp/room1", stamp),
		Topic:     "temp/room1",
		Device:    "dev1",
		Type:      "temperature",
		Value:     value,
		Timestamp: stamp,
	}
}

func TestAggregateThreeSampleWindow(t *testing.T) {
	samples := []measure.Sample{
		tempSample("2024-01-01T12:00:00", 20.0),
		tempSample("2024-01-01T12:01:00", 20.5),
		tempSample("2024-01-01T12:02:00", 21.0),
	}

	record, err := Aggregate(context.Background(), tempDevice(t), "temp/room1", samples)
	require.NoError(t, err)

	assert.Equal(t, "temp/room1", record.Topic)
	assert.Equal(t, "temperature", record.MeasureType)
	assert.Equal(t, "average", record.ValueType)

	// Equal accuracies make the weighted mean the arithmetic mean.
	assert.InDelta(t, 20.5, record.Value, 1e-9)
	assert.InDelta(t, 0.1/math.Sqrt(3), record.Accuracy, 1e-9)

	assert.Equal(t, measure.Extreme{Value: 20.0, Timestamp: "2024-01-01T12:00:00"}, record.MinValue)
	assert.Equal(t, measure.Extreme{Value: 21.0, Timestamp: "2024-01-01T12:02:00"}, record.MaxValue)

	assert.Equal(t, "2024-01-01T12:01:00", record.Timestamp, "midpoint of the window")
	assert.Equal(t, "temp/room1@2024-01-01T12:01:00", record.ID)
	assert.Equal(t, measure.TimeSlot{Start: "2024-01-01T12:00:00", End: "2024-01-01T12:02:00"}, record.TimeSlot)
}

func TestAggregateBoundsEverySample(t *testing.T) {
	samples := []measure.Sample{
		tempSample("2024-01-01T12:00:00", 23.4),
		tempSample("2024-01-01T12:00:30", 19.1),
		tempSample("2024-01-01T12:01:00", 25.0),
		tempSample("2024-01-01T12:01:30", 21.7),
	}

	record, err := Aggregate(context.Background(), tempDevice(t), "temp/room1", samples)
	require.NoError(t, err)

	for _, s := range samples {
		assert.LessOrEqual(t, record.MinValue.Value, s.Value)
		assert.GreaterOrEqual(t, record.MaxValue.Value, s.Value)
	}
}

func TestAggregateFirstSeenWinsTies(t *testing.T) {
	samples := []measure.Sample{
		tempSample("2024-01-01T12:00:00", 20.0),
		tempSample("2024-01-01T12:01:00", 20.0),
		tempSample("2024-01-01T12:02:00", 20.0),
	}

	record, err := Aggregate(context.Background(), tempDevice(t), "temp/room1", samples)
	require.NoError(t, err)

	assert.Equal(t, "2024-01-01T12:00:00", record.MinValue.Timestamp)
	assert.Equal(t, "2024-01-01T12:00:00", record.MaxValue.Timestamp)
}

func TestAggregateSingleSample(t *testing.T) {
	samples := []measure.Sample{tempSample("2024-01-01T12:00:00", 20.0)}

	record, err := Aggregate(context.Background(), tempDevice(t), "temp/room1", samples)
	require.NoError(t, err)

	assert.Equal(t, 20.0, record.Value)
	assert.InDelta(t, 0.1, record.Accuracy, 1e-9, "propagation over one sample is its own accuracy")
	assert.Equal(t, "2024-01-01T12:00:00", record.Timestamp)
	assert.Equal(t, record.TimeSlot.Start, record.TimeSlot.End)
}

func TestAggregateUnknownDeviceAccuracyZero(t *testing.T) {
	samples := []measure.Sample{
		tempSample("2024-01-01T12:00:00", 20.0),
		tempSample("2024-01-01T12:01:00", 21.0),
	}
	samples[1].Device = "ghost"

	record, err := Aggregate(context.Background(), tempDevice(t), "temp/room1", samples)
	require.NoError(t, err)

	// Only dev1 contributes error: sqrt(0.1^2 + 0) / 2.
	assert.InDelta(t, 0.05, record.Accuracy, 1e-9)
}

func TestAggregateEmptyWindow(t *testing.T) {
	_, err := Aggregate(context.Background(), tempDevice(t), "temp/room1", nil)
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestMidpointTruncatesToSecond(t *testing.T) {
	// 61 seconds apart: the midpoint falls on a half second and is
	// truncated.
	stamp, err := midpoint("2024-01-01T12:00:00", "2024-01-01T12:01:01")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-01T12:00:30", stamp)
}
