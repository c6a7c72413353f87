package measure

import (
	"fmt"
	"time"
)

// StampLayout is the timestamp format used in document ids and document
// bodies: ISO-8601 at second precision, local time, no zone suffix.
const StampLayout = "2006-01-02T15:04:05"

// Sample is one ingested measurement held in the hot store until it is
// consolidated. The ID is derived from topic and timestamp and uniquely
// keys the document.
type Sample struct {
	ID        string  `json:"_id"`
	Rev       string  `json:"_rev,omitempty"`
	Topic     string  `json:"topic"`
	Device    string  `json:"dev"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// Time parses the sample timestamp.
func (s Sample) Time() (time.Time, error) {
	return ParseStamp(s.Timestamp)
}

// Extreme records the minimum or maximum value seen in a window together
// with the timestamp it was observed at.
type Extreme struct {
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// TimeSlot is the closed interval of sample timestamps covered by a
// consolidated record.
type TimeSlot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Record is one consolidated measurement written to the cold store.
// Value carries the uncertainty-weighted mean of the window's samples and
// Accuracy the propagated standard deviation of that mean.
type Record struct {
	ID          string   `json:"_id"`
	Rev         string   `json:"_rev,omitempty"`
	Topic       string   `json:"topic"`
	MeasureType string   `json:"measure_type"`
	ValueType   string   `json:"value_type"`
	Timestamp   string   `json:"timestamp"`
	Value       float64  `json:"value"`
	Accuracy    float64  `json:"accuracy"`
	MinValue    Extreme  `json:"min_value"`
	MaxValue    Extreme  `json:"max_value"`
	TimeSlot    TimeSlot `json:"time_slot"`
}

// DocID builds the derived identifier used to address both samples and
// consolidated records: "<topic>@<timestamp>".
func DocID(topic, stamp string) string {
	return fmt.Sprintf("%s@%s", topic, stamp)
}

// FormatStamp renders t at second precision in the document format.
func FormatStamp(t time.Time) string {
	return t.Format(StampLayout)
}

// ParseStamp parses a document timestamp. Sub-second fractions are not
// part of the format and are rejected.
func ParseStamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(StampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}
