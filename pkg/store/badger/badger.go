// Package badger implements store.Store on BadgerDB for single-host
// deployments that keep the hot and cold stores embedded instead of on a
// CouchDB server.
//
// Document ids "<topic>@<timestamp>" are used directly as keys: the
// timestamp layout sorts lexicographically in chronological order, so the
// composite-key range queries become prefix iterations.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"iotarchive/pkg/measure"
	"iotarchive/pkg/store"
)

// Config holds BadgerDB configuration.
type Config struct {
	// Path to the database directory.
	Path string

	// InMemory mode (for testing).
	InMemory bool
}

// Store is a BadgerDB-backed store.Store.
type Store struct {
	db *badger.DB
}

// New opens a BadgerDB store. Memory options are kept conservative: the
// write volume of a small IoT deployment is a few documents per second.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumMemtables(3).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20).
		WithNumCompactors(2).
		WithLogger(nil)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger at %s: %w", cfg.Path, err)
	}
	return &Store{db: db}, nil
}

// Insert writes a new document, rejecting duplicate ids.
func (s *Store) Insert(ctx context.Context, id string, doc any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(id)); err == nil {
			return fmt.Errorf("insert %s: %w", id, store.ErrConflict)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set([]byte(id), body)
	})
	if err != nil {
		if store.IsConflict(err) {
			return err
		}
		return fmt.Errorf("writing document %s: %w", id, err)
	}
	return nil
}

// Get reads a document and returns its badger version as the revision.
func (s *Store) Get(ctx context.Context, id string, dst any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var rev string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("get %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		rev = strconv.FormatUint(item.Version(), 10)
		if dst == nil {
			return nil
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dst)
		})
	})
	if err != nil {
		return "", err
	}
	return rev, nil
}

// Remove deletes a document. The revision must match the current badger
// version; a stale revision fails with ErrConflict.
func (s *Store) Remove(ctx context.Context, id, rev string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(id))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("remove %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if rev != strconv.FormatUint(item.Version(), 10) {
			return fmt.Errorf("remove %s rev %s: %w", id, rev, store.ErrConflict)
		}
		return txn.Delete([]byte(id))
	})
}

// Samples iterates the topic's key range [topic@start, topic@end].
func (s *Store) Samples(ctx context.Context, topic string, start, end time.Time) ([]measure.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(topic + "@")
	from := []byte(measure.DocID(topic, measure.FormatStamp(start)))
	to := []byte(measure.DocID(topic, measure.FormatStamp(end)))

	var results []measure.Sample
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(from); it.Valid(); it.Next() {
			item := it.Item()
			if bytes.Compare(item.Key(), to) > 0 {
				break
			}
			err := item.Value(func(val []byte) error {
				var sample measure.Sample
				if err := json.Unmarshal(val, &sample); err != nil {
					return fmt.Errorf("decoding %s: %w", item.Key(), err)
				}
				results = append(results, sample)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FirstTimestamp returns the timestamp of the first key under the topic
// prefix, which is the earliest sample by key ordering.
func (s *Store) FirstTimestamp(ctx context.Context, topic string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}

	prefix := []byte(topic + "@")
	var stamp string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(prefix)
		if !it.Valid() {
			return fmt.Errorf("topic %s: %w", topic, store.ErrNotFound)
		}
		stamp = strings.TrimPrefix(string(it.Item().Key()), topic+"@")
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	return measure.ParseStamp(stamp)
}

// Topics scans keys only and collects the distinct id prefixes.
func (s *Store) Topics(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var topics []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		last := ""
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			at := strings.LastIndex(key, "@")
			if at <= 0 {
				continue
			}
			topic := key[:at]
			// Keys are sorted, so equal topics are adjacent.
			if topic != last {
				topics = append(topics, topic)
				last = topic
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return topics, nil
}

// RunGC runs one round of value-log garbage collection. Callers schedule
// this periodically; badger returns an error when nothing was rewritten.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
