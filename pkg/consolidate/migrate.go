package consolidate

import (
	"context"
	"fmt"
	"log/slog"

	"iotarchive/pkg/measure"
	"iotarchive/pkg/store"
)

// Migrate moves one consolidated window: it inserts the record into the
// cold store, then deletes every source sample from the hot store.
//
// The record insert comes first and is the only abort point. Its id is
// derived from topic and window midpoint, so a retry of the same window
// hits the same id; a conflict is therefore idempotent success, not an
// error. Per-sample delete failures are logged and skipped: a sample left
// behind re-enters a later window, which is the accepted at-least-once
// consolidation semantics.
func Migrate(ctx context.Context, hot, cold store.Store, record measure.Record, sampleIDs []string) error {
	if err := cold.Insert(ctx, record.ID, record); err != nil {
		if store.IsConflict(err) {
			slog.Info("consolidated record already present, continuing",
				"id", record.ID)
		} else {
			return fmt.Errorf("inserting consolidated record %s: %w", record.ID, err)
		}
	}
	slog.Info("moving window", "id", record.ID,
		"slot_start", record.TimeSlot.Start, "slot_end", record.TimeSlot.End,
		"samples", len(sampleIDs))

	for _, id := range sampleIDs {
		rev, err := hot.Get(ctx, id, nil)
		if err != nil {
			slog.Error("fetching sample revision failed, sample kept",
				"id", id, "error", err)
			continue
		}
		if err := hot.Remove(ctx, id, rev); err != nil {
			slog.Error("deleting sample failed, sample kept",
				"id", id, "rev", rev, "error", err)
			continue
		}
	}
	return nil
}
