package consolidate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"iotarchive/pkg/devices"
	"iotarchive/pkg/measure"
)

// Aggregate consolidates one window of samples into a single record.
// All samples must belong to the topic and share one measure type; the
// engine guarantees this by construction.
//
// The stored value is the mean of the readings taken as independent
// uncertain quantities, with each reading's error resolved from its
// device's accuracy bands; the stored accuracy is the propagated standard
// deviation of that mean, sqrt(sum(acc_i^2))/n. The raw sample standard
// deviation is computed only as a diagnostic.
func Aggregate(ctx context.Context, resolver *devices.Resolver, topic string, samples []measure.Sample) (measure.Record, error) {
	if len(samples) == 0 {
		return measure.Record{}, fmt.Errorf("topic %s: %w", topic, ErrEmptyWindow)
	}

	measureType := samples[0].Type
	cache := resolver.NewCache()

	var (
		minVal, maxVal measure.Extreme
		first, last    string
		values         = make([]float64, 0, len(samples))
		accuracies     = make([]float64, 0, len(samples))
	)

	for i, s := range samples {
		values = append(values, s.Value)
		accuracies = append(accuracies, cache.Accuracy(ctx, s.Device, measureType, s.Value))

		if i == 0 {
			minVal = measure.Extreme{Value: s.Value, Timestamp: s.Timestamp}
			maxVal = minVal
			first, last = s.Timestamp, s.Timestamp
			continue
		}
		// First seen wins ties on both extremes.
		if s.Value < minVal.Value {
			minVal = measure.Extreme{Value: s.Value, Timestamp: s.Timestamp}
		}
		if s.Value > maxVal.Value {
			maxVal = measure.Extreme{Value: s.Value, Timestamp: s.Timestamp}
		}
		// The timestamp layout sorts lexicographically.
		if s.Timestamp < first {
			first = s.Timestamp
		}
		if s.Timestamp > last {
			last = s.Timestamp
		}
	}

	mean := stat.Mean(values, nil)
	stddev := 0.0
	if len(values) > 1 {
		stddev = stat.StdDev(values, nil)
	}
	slog.Debug("window statistics", "topic", topic,
		"samples", len(values), "mean", mean, "stddev", stddev)

	value, accuracy := propagate(values, accuracies)

	stamp, err := midpoint(first, last)
	if err != nil {
		return measure.Record{}, fmt.Errorf("topic %s: %w", topic, err)
	}

	record := measure.Record{
		ID:          measure.DocID(topic, stamp),
		Topic:       topic,
		MeasureType: measureType,
		ValueType:   "average",
		Timestamp:   stamp,
		Value:       value,
		Accuracy:    accuracy,
		MinValue:    minVal,
		MaxValue:    maxVal,
		TimeSlot:    measure.TimeSlot{Start: first, End: last},
	}
	slog.Debug("consolidated record computed", "id", record.ID,
		"value", record.Value, "accuracy", record.Accuracy)
	return record, nil
}

// propagate computes the mean of independent uncertain readings and the
// standard deviation of that mean under linear uncertainty propagation.
// The mean is not clamped to [min, max].
func propagate(values, accuracies []float64) (float64, float64) {
	n := float64(len(values))
	sumSq := 0.0
	for _, acc := range accuracies {
		sumSq += acc * acc
	}
	return stat.Mean(values, nil), math.Sqrt(sumSq) / n
}

// midpoint returns the instant halfway between two sample timestamps,
// truncated to second precision.
func midpoint(first, last string) (string, error) {
	start, err := measure.ParseStamp(first)
	if err != nil {
		return "", err
	}
	end, err := measure.ParseStamp(last)
	if err != nil {
		return "", err
	}
	mid := start.Add(end.Sub(start) / 2)
	mid = mid.Add(-time.Duration(mid.Nanosecond()))
	return measure.FormatStamp(mid), nil
}
