// Package consolidate implements the consolidation engine: select a full
// time window of hot samples for a topic, aggregate them into one
// consolidated record, and migrate that record to the cold store while
// purging the originals.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"iotarchive/pkg/store"
)

// ErrWindowNotReady reports that the topic's oldest samples do not yet
// span a full window; the caller must defer aggregation.
var ErrWindowNotReady = errors.New("window not fully populated")

// ErrEmptyWindow reports an aggregation attempt over zero samples.
var ErrEmptyWindow = errors.New("empty aggregation window")

// SelectWindow finds the next consolidation window for a topic: the
// closed interval starting at the chronologically earliest hot sample and
// spanning the given duration. When multiple samples share the earliest
// timestamp any of them anchors the window.
//
// Returns ErrWindowNotReady when the window end has not passed yet, and
// store.ErrNotFound when the topic has no hot samples at all.
func SelectWindow(ctx context.Context, hot store.Store, topic string, d time.Duration) (start, end time.Time, err error) {
	start, err = hot.FirstTimestamp(ctx, topic)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("selecting window for %s: %w", topic, err)
	}

	end = start.Add(d)
	if !end.Before(time.Now()) {
		return time.Time{}, time.Time{}, fmt.Errorf("topic %s: %w", topic, ErrWindowNotReady)
	}
	return start, end, nil
}
