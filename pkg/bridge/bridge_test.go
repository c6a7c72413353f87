package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iotarchive/pkg/measure"
	"iotarchive/pkg/store/memory"
)

func newTestBridge(hot *memory.Store) *Bridge {
	b := New(Config{IdleSleep: time.Millisecond}, hot)
	b.now = func() time.Time {
		return time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	}
	return b
}

func TestHandleMessageStampsAndTags(t *testing.T) {
	b := newTestBridge(memory.New())

	b.handleMessage("temp/room1", []byte(`{"value": 20.5, "dev": "dev1", "type": "temperature"}`))

	item, ok := b.queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "temp/room1", item.Topic)
	assert.Equal(t, "temp/room1@2024-01-01T12:00:00", item.ID)
	assert.Equal(t, "temp/room1@2024-01-01T12:00:00", item.Doc["_id"])
	assert.Equal(t, "temp/room1", item.Doc["topic"])
	assert.Equal(t, "2024-01-01T12:00:00", item.Doc["timestamp"])
	assert.Equal(t, 20.5, item.Doc["value"])
}

func TestHandleMessageKeepsPayloadTimestamp(t *testing.T) {
	b := newTestBridge(memory.New())

	b.handleMessage("temp/room1", []byte(`{"value": 1, "timestamp": "2023-06-15T08:30:00"}`))

	item, ok := b.queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "temp/room1@2023-06-15T08:30:00", item.ID)
}

func TestHandleMessageDiscardsBadPayload(t *testing.T) {
	b := newTestBridge(memory.New())

	b.handleMessage("temp/room1", []byte(`not json`))

	assert.Equal(t, 0, b.queue.Len())
	assert.Equal(t, uint64(1), b.Stats().ParseErrors)
}

func TestHandleMessageEmptyPayload(t *testing.T) {
	b := newTestBridge(memory.New())

	// An empty record is legal; the bridge stamps and tags it.
	b.handleMessage("temp/room1", []byte(`{}`))

	item, ok := b.queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "temp/room1@2024-01-01T12:00:00", item.ID)
}

func TestDrainPersistsQueuedSamples(t *testing.T) {
	hot := memory.New()
	b := newTestBridge(hot)

	for _, payload := range []string{
		`{"value": 1, "timestamp": "2024-01-01T12:00:00"}`,
		`{"value": 2, "timestamp": "2024-01-01T12:00:01"}`,
	} {
		b.handleMessage("temp/room1", []byte(payload))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.drain(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return b.Stats().Ingested == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	var got measure.Sample
	_, err := hot.Get(ctx, "temp/room1@2024-01-01T12:00:01", &got)
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Value)
}

func TestDrainDropsFailedInserts(t *testing.T) {
	hot := memory.New()
	b := newTestBridge(hot)

	// Same derived id twice; the second insert conflicts and is dropped.
	payload := `{"value": 1, "timestamp": "2024-01-01T12:00:00"}`
	b.handleMessage("temp/room1", []byte(payload))
	b.handleMessage("temp/room1", []byte(payload))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.drain(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s := b.Stats()
		return s.Ingested == 1 && s.InsertErrors == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	assert.Equal(t, 1, hot.Len())
}
