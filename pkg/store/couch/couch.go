// Package couch implements store.Store on a CouchDB database reached
// through kivik. The composite-key queries are served by the design
// documents ensured at startup: sequences/by_topic emits
// [topic, timestamp] per sample and counters/topic_list groups distinct
// topics.
package couch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
	_ "github.com/go-kivik/kivik/v4/couchdb"

	"iotarchive/pkg/measure"
	"iotarchive/pkg/store"
)

// Config describes the CouchDB connection for one database.
type Config struct {
	Server   string
	Port     int
	User     string
	Password string
	Database string
}

// DSN renders the connection string. Credentials ride in the URL the way
// CouchDB expects them.
func (c Config) DSN() string {
	return fmt.Sprintf("http://%s:%s@%s:%d/", c.User, c.Password, c.Server, c.Port)
}

// Store is a CouchDB-backed store.Store.
type Store struct {
	client *kivik.Client
	db     *kivik.DB
}

// New connects to the server and binds the configured database. The
// connection is verified up front: an unreachable store is fatal to the
// component using it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client, err := kivik.New("couch", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("couchdb client for %s:%d: %w", cfg.Server, cfg.Port, err)
	}
	if _, err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("couchdb %s:%d unreachable: %w", cfg.Server, cfg.Port, err)
	}

	db := client.DB(cfg.Database)
	if err := db.Err(); err != nil {
		return nil, fmt.Errorf("couchdb database %s: %w", cfg.Database, err)
	}
	return &Store{client: client, db: db}, nil
}

// Insert writes a new document under its id.
func (s *Store) Insert(ctx context.Context, id string, doc any) error {
	if _, err := s.db.Put(ctx, id, doc); err != nil {
		return fmt.Errorf("insert %s: %w", id, mapError(err))
	}
	return nil
}

// Get reads a document and returns its revision.
func (s *Store) Get(ctx context.Context, id string, dst any) (string, error) {
	row := s.db.Get(ctx, id)
	if dst != nil {
		if err := row.ScanDoc(dst); err != nil {
			return "", fmt.Errorf("get %s: %w", id, mapError(err))
		}
	}
	rev, err := row.Rev()
	if err != nil {
		return "", fmt.Errorf("get %s: %w", id, mapError(err))
	}
	return rev, nil
}

// Remove deletes a document by id and revision.
func (s *Store) Remove(ctx context.Context, id, rev string) error {
	if _, err := s.db.Delete(ctx, id, rev); err != nil {
		return fmt.Errorf("remove %s: %w", id, mapError(err))
	}
	return nil
}

// Samples queries sequences/by_topic over [topic, start] .. [topic, end]
// with the documents included.
func (s *Store) Samples(ctx context.Context, topic string, start, end time.Time) ([]measure.Sample, error) {
	rs := s.db.Query(ctx, "_design/sequences", "_view/by_topic", kivik.Params(map[string]any{
		"startkey":     []string{topic, measure.FormatStamp(start)},
		"endkey":       []string{topic, measure.FormatStamp(end)},
		"include_docs": true,
		"reduce":       false,
	}))
	defer rs.Close()

	var results []measure.Sample
	for rs.Next() {
		var sample measure.Sample
		if err := rs.ScanDoc(&sample); err != nil {
			return nil, fmt.Errorf("decoding sample row: %w", err)
		}
		results = append(results, sample)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("samples query for %s: %w", topic, mapError(err))
	}
	return results, nil
}

// FirstTimestamp reads the first row of the topic's key range.
func (s *Store) FirstTimestamp(ctx context.Context, topic string) (time.Time, error) {
	rs := s.db.Query(ctx, "_design/sequences", "_view/by_topic", kivik.Params(map[string]any{
		"startkey": []any{topic},
		"endkey":   []any{topic, map[string]any{}},
		"reduce":   false,
		"limit":    1,
	}))
	defer rs.Close()

	if !rs.Next() {
		if err := rs.Err(); err != nil {
			return time.Time{}, fmt.Errorf("first-doc query for %s: %w", topic, mapError(err))
		}
		return time.Time{}, fmt.Errorf("topic %s: %w", topic, store.ErrNotFound)
	}

	var key []string
	if err := rs.ScanKey(&key); err != nil {
		return time.Time{}, fmt.Errorf("decoding first-doc key for %s: %w", topic, err)
	}
	if len(key) < 2 {
		return time.Time{}, fmt.Errorf("first-doc key for %s has no timestamp", topic)
	}
	return measure.ParseStamp(key[1])
}

// Topics queries counters/topic_list with grouping.
func (s *Store) Topics(ctx context.Context) ([]string, error) {
	rs := s.db.Query(ctx, "_design/counters", "_view/topic_list", kivik.Param("group", true))
	defer rs.Close()

	var topics []string
	for rs.Next() {
		var topic string
		if err := rs.ScanKey(&topic); err != nil {
			return nil, fmt.Errorf("decoding topic row: %w", err)
		}
		topics = append(topics, topic)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("topic list query: %w", mapError(err))
	}
	return topics, nil
}

// Close releases the client connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// designDocs are the view definitions the queries above rely on.
var designDocs = map[string]any{
	"_design/sequences": map[string]any{
		"views": map[string]any{
			"by_topic": map[string]any{
				"map": `function(doc) {
					if (doc.topic && doc.timestamp) {
						emit([doc.topic, doc.timestamp], doc.value);
					}
				}`,
			},
		},
	},
	"_design/counters": map[string]any{
		"views": map[string]any{
			"topic_list": map[string]any{
				"map": `function(doc) {
					if (doc.topic) {
						emit(doc.topic, 1);
					}
				}`,
				"reduce": "_count",
			},
		},
	},
}

// EnsureDesign creates the design documents if they are absent. An
// existing document is left untouched.
func (s *Store) EnsureDesign(ctx context.Context) error {
	for id, doc := range designDocs {
		if _, err := s.db.Put(ctx, id, doc); err != nil {
			if store.IsConflict(mapError(err)) {
				continue
			}
			return fmt.Errorf("creating %s: %w", id, mapError(err))
		}
	}
	return nil
}

// mapError classifies kivik errors into the store error kinds.
func mapError(err error) error {
	switch kivik.HTTPStatus(err) {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}
