package consolidate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"iotarchive/pkg/devices"
	"iotarchive/pkg/store"
)

// Config controls the engine cadence.
type Config struct {
	// Window is the consolidation window duration.
	Window time.Duration

	// Idle is the pause between engine cycles once every topic has been
	// drained.
	Idle time.Duration
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Windows     uint64 `json:"windows_migrated"`
	Deferred    uint64 `json:"windows_deferred"`
	CycleErrors uint64 `json:"cycle_errors"`
}

// Engine runs the consolidation loop over every topic present in the hot
// store. Topics touch disjoint data, so each is drained in its own
// goroutine within a cycle.
type Engine struct {
	cfg      Config
	hot      store.Store
	cold     store.Store
	resolver *devices.Resolver

	windows     atomic.Uint64
	deferred    atomic.Uint64
	cycleErrors atomic.Uint64
}

// New creates an engine over the three stores.
func New(cfg Config, hot, cold store.Store, resolver *devices.Resolver) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.Idle <= 0 {
		cfg.Idle = time.Minute
	}
	return &Engine{cfg: cfg, hot: hot, cold: cold, resolver: resolver}
}

// Run cycles until ctx is cancelled: list the hot store's topics, drain
// each in parallel, then idle. The topic list is refreshed every cycle so
// newly ingested topics are picked up.
func (e *Engine) Run(ctx context.Context) error {
	for {
		topics, err := e.hot.Topics(ctx)
		if err != nil {
			e.cycleErrors.Add(1)
			slog.Error("topic list query failed", "error", err)
		} else {
			slog.Debug("engine cycle", "topics", len(topics))
			var wg sync.WaitGroup
			for _, topic := range topics {
				wg.Add(1)
				go func(topic string) {
					defer wg.Done()
					e.DrainTopic(ctx, topic)
				}(topic)
			}
			wg.Wait()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.Idle):
		}
	}
}

// DrainTopic consolidates windows for one topic until the remaining
// samples no longer span a full window.
func (e *Engine) DrainTopic(ctx context.Context, topic string) {
	for {
		ok, err := e.ConsolidateOnce(ctx, topic)
		if err != nil {
			e.cycleErrors.Add(1)
			slog.Error("consolidation failed, window retried next cycle",
				"topic", topic, "error", err)
			return
		}
		if !ok {
			return
		}
	}
}

// ConsolidateOnce migrates a single window for the topic. It returns
// false with a nil error when no full window is available.
func (e *Engine) ConsolidateOnce(ctx context.Context, topic string) (bool, error) {
	start, end, err := SelectWindow(ctx, e.hot, topic, e.cfg.Window)
	if err != nil {
		if errors.Is(err, ErrWindowNotReady) {
			e.deferred.Add(1)
			slog.Debug("window not ready", "topic", topic)
			return false, nil
		}
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	samples, err := e.hot.Samples(ctx, topic, start, end)
	if err != nil {
		return false, err
	}
	if len(samples) == 0 {
		// The anchor sample vanished between the two queries; the next
		// cycle selects a fresh window.
		slog.Warn("selected window is empty, deferring", "topic", topic)
		return false, nil
	}

	record, err := Aggregate(ctx, e.resolver, topic, samples)
	if err != nil {
		return false, err
	}

	ids := make([]string, len(samples))
	for i, s := range samples {
		ids[i] = s.ID
	}
	if err := Migrate(ctx, e.hot, e.cold, record, ids); err != nil {
		return false, err
	}

	e.windows.Add(1)
	return true, nil
}

// Stats snapshots the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Windows:     e.windows.Load(),
		Deferred:    e.deferred.Load(),
		CycleErrors: e.cycleErrors.Load(),
	}
}
