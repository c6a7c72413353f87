// Package bridge implements the ingestion path: subscribe the catalog
// topics on the MQTT broker, tag each inbound payload with its timestamp
// and derived identifier, and drain the hand-off queue into the hot
// store.
//
// Delivery from broker to hot store is at most once: a payload that fails
// to parse is discarded, and a sample that fails to insert is logged and
// dropped without retry.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"iotarchive/pkg/measure"
	"iotarchive/pkg/store"
)

// Config describes the broker connection and the bridge behavior.
type Config struct {
	Server    string
	Port      int
	User      string
	Password  string
	KeepAlive int

	// Topics to subscribe, from the topic catalog.
	Topics []string

	// QueueCapacity bounds the hand-off queue (0 = default).
	QueueCapacity int

	// IdleSleep is how long the drain loop waits when the queue is
	// empty (0 = 5s, matching the historical drain cadence).
	IdleSleep time.Duration

	// ConnectTimeout bounds the initial broker connection; expiring is
	// fatal to the bridge (0 = 30s).
	ConnectTimeout time.Duration
}

// Stats is a snapshot of the bridge counters, served by the status
// endpoint.
type Stats struct {
	QueueLen     int    `json:"queue_len"`
	QueueDropped uint64 `json:"queue_dropped"`
	Enqueued     uint64 `json:"enqueued"`
	Ingested     uint64 `json:"ingested"`
	ParseErrors  uint64 `json:"parse_errors"`
	InsertErrors uint64 `json:"insert_errors"`
}

// Bridge is the broker-to-hot-store ingestion bridge.
type Bridge struct {
	cfg   Config
	hot   store.Store
	queue *Queue

	// now is swappable for tests that stamp payloads.
	now func() time.Time

	enqueued     atomic.Uint64
	ingested     atomic.Uint64
	parseErrors  atomic.Uint64
	insertErrors atomic.Uint64
}

// New creates a bridge writing into the hot store.
func New(cfg Config, hot store.Store) *Bridge {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 5 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	return &Bridge{
		cfg:   cfg,
		hot:   hot,
		queue: NewQueue(cfg.QueueCapacity),
		now:   time.Now,
	}
}

// Run connects to the broker, subscribes the configured topics and drains
// the queue until ctx is cancelled. A broker that cannot be reached
// within the connect timeout is a fatal error.
func (b *Bridge) Run(ctx context.Context) error {
	cm, err := b.connect(ctx)
	if err != nil {
		return err
	}

	b.drain(ctx)

	disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cm.Disconnect(disconnectCtx); err != nil {
		slog.Debug("broker disconnect", "error", err)
	}
	return nil
}

func (b *Bridge) connect(ctx context.Context) (*autopaho.ConnectionManager, error) {
	serverURL, err := url.Parse(fmt.Sprintf("mqtt://%s:%d", b.cfg.Server, b.cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("broker address: %w", err)
	}

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     uint16(b.cfg.KeepAlive),
		ConnectUsername:               b.cfg.User,
		ConnectPassword:               []byte(b.cfg.Password),
		CleanStartOnInitialConnection: true,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			slog.Info("broker connected", "server", serverURL.Host)
			b.subscribeAll(ctx, cm)
		},
		OnConnectError: func(err error) {
			slog.Error("broker connection attempt failed", "server", serverURL.Host, "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "archiver-" + uuid.NewString()[:8],
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					b.handleMessage(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				slog.Warn("broker disconnected", "reason_code", d.ReasonCode)
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return nil, fmt.Errorf("broker client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(connectCtx); err != nil {
		return nil, fmt.Errorf("broker %s unreachable: %w", serverURL.Host, err)
	}
	return cm, nil
}

// subscribeAll registers interest in every catalog topic. Topics are
// subscribed one at a time so a refused topic is skipped without
// affecting the others. Runs again on every reconnection.
func (b *Bridge) subscribeAll(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, topic := range b.cfg.Topics {
		_, err := cm.Subscribe(ctx, &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: 0}},
		})
		if err != nil {
			slog.Error("topic subscription failed", "topic", topic, "error", err)
			continue
		}
		slog.Info("topic subscribed", "topic", topic)
	}
}

// handleMessage tags one inbound payload and pushes it onto the hand-off
// queue. Runs on the broker callback, so it never blocks on the store.
func (b *Bridge) handleMessage(topic string, payload []byte) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		b.parseErrors.Add(1)
		slog.Error("discarding unparseable payload", "topic", topic, "error", err)
		return
	}
	if doc == nil {
		doc = make(map[string]any)
	}

	stamp, ok := doc["timestamp"].(string)
	if !ok || stamp == "" {
		stamp = measure.FormatStamp(b.now())
		doc["timestamp"] = stamp
	}

	id := measure.DocID(topic, stamp)
	doc["_id"] = id
	doc["topic"] = topic

	b.queue.Enqueue(Item{Topic: topic, ID: id, Doc: doc})
	b.enqueued.Add(1)
	slog.Debug("sample enqueued", "id", id)
}

// drain moves queued samples into the hot store until ctx is cancelled.
// Insert failures are logged and the sample is dropped; an empty queue is
// polled with a bounded idle sleep, never a busy spin.
func (b *Bridge) drain(ctx context.Context) {
	for {
		item, ok := b.queue.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.cfg.IdleSleep):
			}
			continue
		}

		if err := b.hot.Insert(ctx, item.ID, item.Doc); err != nil {
			b.insertErrors.Add(1)
			slog.Error("sample insert failed, dropping",
				"id", item.ID, "topic", item.Topic, "error", err)
			continue
		}
		b.ingested.Add(1)
		slog.Debug("sample stored", "id", item.ID)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Stats snapshots the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		QueueLen:     b.queue.Len(),
		QueueDropped: b.queue.Dropped(),
		Enqueued:     b.enqueued.Load(),
		Ingested:     b.ingested.Load(),
		ParseErrors:  b.parseErrors.Load(),
		InsertErrors: b.insertErrors.Load(),
	}
}
