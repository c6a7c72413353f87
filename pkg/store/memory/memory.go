// Package memory stores documents in memory. Data is lost on restart.
// Useful for testing and development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"iotarchive/pkg/measure"
	"iotarchive/pkg/store"
)

type document struct {
	rev  int
	body []byte
}

// Store is an in-memory store.Store implementation.
type Store struct {
	mu   sync.RWMutex
	docs map[string]document
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{docs: make(map[string]document)}
}

// Insert writes a new document, rejecting duplicate ids.
func (s *Store) Insert(ctx context.Context, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[id]; exists {
		return fmt.Errorf("insert %s: %w", id, store.ErrConflict)
	}
	s.docs[id] = document{rev: 1, body: body}
	return nil
}

// Get reads a document into dst and returns its revision.
func (s *Store) Get(ctx context.Context, id string, dst any) (string, error) {
	s.mu.RLock()
	doc, ok := s.docs[id]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("get %s: %w", id, store.ErrNotFound)
	}
	if dst != nil {
		if err := json.Unmarshal(doc.body, dst); err != nil {
			return "", fmt.Errorf("decoding document %s: %w", id, err)
		}
	}
	return strconv.Itoa(doc.rev), nil
}

// Remove deletes a document, verifying the revision.
func (s *Store) Remove(ctx context.Context, id, rev string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("remove %s: %w", id, store.ErrNotFound)
	}
	if rev != strconv.Itoa(doc.rev) {
		return fmt.Errorf("remove %s rev %s: %w", id, rev, store.ErrConflict)
	}
	delete(s.docs, id)
	return nil
}

// Samples returns the topic's samples within [start, end], sorted by
// timestamp. Order among samples sharing a timestamp is not guaranteed.
func (s *Store) Samples(ctx context.Context, topic string, start, end time.Time) ([]measure.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []measure.Sample
	for _, doc := range s.docs {
		sample, ok := decodeSample(doc.body)
		if !ok || sample.Topic != topic {
			continue
		}
		ts, err := sample.Time()
		if err != nil {
			continue
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		results = append(results, sample)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp < results[j].Timestamp
	})
	return results, nil
}

// FirstTimestamp returns the earliest sample timestamp for the topic.
func (s *Store) FirstTimestamp(ctx context.Context, topic string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	earliest := ""
	for _, doc := range s.docs {
		sample, ok := decodeSample(doc.body)
		if !ok || sample.Topic != topic {
			continue
		}
		if earliest == "" || sample.Timestamp < earliest {
			earliest = sample.Timestamp
		}
	}
	if earliest == "" {
		return time.Time{}, fmt.Errorf("topic %s: %w", topic, store.ErrNotFound)
	}
	return measure.ParseStamp(earliest)
}

// Topics returns the distinct topics present in the store.
func (s *Store) Topics(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var topics []string
	for _, doc := range s.docs {
		sample, ok := decodeSample(doc.body)
		if !ok || sample.Topic == "" || seen[sample.Topic] {
			continue
		}
		seen[sample.Topic] = true
		topics = append(topics, sample.Topic)
	}
	sort.Strings(topics)
	return topics, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

// Len returns the number of stored documents. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// decodeSample interprets a document body as a sample. Documents without
// topic and timestamp fields (e.g. device profiles) are skipped by the
// sample queries.
func decodeSample(body []byte) (measure.Sample, bool) {
	var sample measure.Sample
	if err := json.Unmarshal(body, &sample); err != nil {
		return measure.Sample{}, false
	}
	if sample.Topic == "" || sample.Timestamp == "" {
		return measure.Sample{}, false
	}
	return sample, true
}
