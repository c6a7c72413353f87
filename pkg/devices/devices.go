// Package devices resolves per-device measurement accuracy from the
// device store. A device document maps measure types to accuracy bands:
//
//	{"temperature": {"accuracy": [{"range_inf": 0, "range_sup": 10, "value": 0.1}, ...]}}
//
// Accuracy defaults to 0.0 whenever the device is unknown, has no table
// for the measure type, or no band contains the reading. Resolution never
// blocks an aggregation.
package devices

import (
	"context"
	"encoding/json"
	"log/slog"

	"iotarchive/pkg/store"
)

// Band gives the absolute measurement error for readings in the half-open
// interval [RangeInf, RangeSup).
type Band struct {
	RangeInf float64 `json:"range_inf"`
	RangeSup float64 `json:"range_sup"`
	Value    float64 `json:"value"`
}

// profile is the per-measure-type section of a device document.
type profile struct {
	Accuracy []Band `json:"accuracy"`
}

// rawDevice defers parsing of each measure-type section; device documents
// also carry bookkeeping fields (_id, _rev) that are not profiles.
type rawDevice map[string]json.RawMessage

// Resolver looks up device accuracy profiles in the devices store.
type Resolver struct {
	devices store.Store
}

// NewResolver binds a resolver to the devices store.
func NewResolver(devices store.Store) *Resolver {
	return &Resolver{devices: devices}
}

// Accuracy resolves one reading's accuracy with a fresh device lookup.
// Aggregations should go through a Cache instead to avoid re-fetching the
// same device for every sample.
func (r *Resolver) Accuracy(ctx context.Context, device, measureType string, value float64) float64 {
	doc, err := r.fetch(ctx, device)
	if err != nil {
		return 0.0
	}
	return bandValue(doc, device, measureType, value)
}

func (r *Resolver) fetch(ctx context.Context, device string) (rawDevice, error) {
	var doc rawDevice
	if _, err := r.devices.Get(ctx, device, &doc); err != nil {
		slog.Warn("device lookup failed", "device", device, "error", err)
		return nil, err
	}
	return doc, nil
}

// Cache resolves accuracies with at most one store lookup per device.
// It is scoped to a single aggregation call and discarded afterwards, so
// device profile updates are picked up by the next window.
type Cache struct {
	resolver *Resolver
	docs     map[string]rawDevice
}

// NewCache creates an empty lookup cache over the resolver.
func (r *Resolver) NewCache() *Cache {
	return &Cache{resolver: r, docs: make(map[string]rawDevice)}
}

// Accuracy resolves one reading's accuracy, fetching the device document
// lazily on first use. A failed lookup is cached as unknown so a dead
// device store costs one round trip per device, not per sample.
func (c *Cache) Accuracy(ctx context.Context, device, measureType string, value float64) float64 {
	doc, seen := c.docs[device]
	if !seen {
		doc, _ = c.resolver.fetch(ctx, device)
		c.docs[device] = doc
	}
	if doc == nil {
		return 0.0
	}
	return bandValue(doc, device, measureType, value)
}

// bandValue finds the band containing value. No interpolation and no
// extrapolation beyond the configured bands.
func bandValue(doc rawDevice, device, measureType string, value float64) float64 {
	raw, ok := doc[measureType]
	if !ok {
		slog.Warn("device has no accuracy table for measure type",
			"device", device, "measure_type", measureType)
		return 0.0
	}

	var p profile
	if err := json.Unmarshal(raw, &p); err != nil {
		slog.Warn("malformed accuracy table",
			"device", device, "measure_type", measureType, "error", err)
		return 0.0
	}

	for _, band := range p.Accuracy {
		if value >= band.RangeInf && value < band.RangeSup {
			return band.Value
		}
	}
	return 0.0
}
