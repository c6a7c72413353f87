package devices

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotarchive/pkg/store/memory"
)

func newDeviceStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	doc := map[string]any{
		"temperature": map[string]any{
			"accuracy": []map[string]any{
				{"range_inf": 0.0, "range_sup": 10.0, "value": 0.1},
				{"range_inf": 10.0, "range_sup": 20.0, "value": 0.2},
			},
		},
	}
	require.NoError(t, s.Insert(context.Background(), "dev1", doc))
	return s
}

func TestAccuracyBands(t *testing.T) {
	r := NewResolver(newDeviceStore(t))
	ctx := context.Background()

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"inside first band", 9.9, 0.1},
		{"inside second band", 15, 0.2},
		{"lower bound is closed", 10, 0.2},
		{"beyond last band", 25, 0.0},
		{"below first band", -1, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Accuracy(ctx, "dev1", "temperature", tt.value))
		})
	}
}

func TestAccuracyFallbacks(t *testing.T) {
	r := NewResolver(newDeviceStore(t))
	ctx := context.Background()

	assert.Equal(t, 0.0, r.Accuracy(ctx, "ghost", "temperature", 5))
	assert.Equal(t, 0.0, r.Accuracy(ctx, "dev1", "humidity", 5))
}

func TestCacheSingleLookupPerDevice(t *testing.T) {
	store := newDeviceStore(t)
	r := NewResolver(store)
	ctx := context.Background()

	cache := r.NewCache()
	assert.Equal(t, 0.1, cache.Accuracy(ctx, "dev1", "temperature", 5))
	assert.Equal(t, 0.2, cache.Accuracy(ctx, "dev1", "temperature", 15))

	// Unknown devices are cached as unknown too.
	assert.Equal(t, 0.0, cache.Accuracy(ctx, "ghost", "temperature", 5))
	assert.Equal(t, 0.0, cache.Accuracy(ctx, "ghost", "temperature", 15))

	assert.Len(t, cache.docs, 2)
}
