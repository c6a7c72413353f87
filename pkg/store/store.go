// Package store defines the document-store abstraction shared by the
// archiver and historian.
//
// Implementations: couch (CouchDB, production), badger (embedded, single
// host), memory (testing). Documents are addressed by the derived
// identifier "<topic>@<timestamp>" and carry an opaque revision used for
// deletes.
package store

import (
	"context"
	"errors"
	"time"

	"iotarchive/pkg/measure"
)

// ErrNotFound reports a document id absent from the store.
var ErrNotFound = errors.New("document not found")

// ErrConflict reports an insert hitting an existing document id or a
// delete with a stale revision.
var ErrConflict = errors.New("document conflict")

// Store is the narrow contract the core needs from a document store.
type Store interface {
	// Insert writes a new document under its id. Inserting an id that
	// already exists fails with ErrConflict.
	Insert(ctx context.Context, id string, doc any) error

	// Get reads a document into dst and returns its current revision.
	Get(ctx context.Context, id string, dst any) (rev string, err error)

	// Remove deletes a document by id and revision.
	Remove(ctx context.Context, id, rev string) error

	// Samples returns the topic's samples with timestamps in the closed
	// interval [start, end], in chronological order.
	Samples(ctx context.Context, topic string, start, end time.Time) ([]measure.Sample, error)

	// FirstTimestamp returns the timestamp of the chronologically
	// earliest sample for the topic, or ErrNotFound when the topic has
	// no samples.
	FirstTimestamp(ctx context.Context, topic string) (time.Time, error)

	// Topics returns the distinct topic identifiers present in the
	// store.
	Topics(ctx context.Context) ([]string, error)

	Close() error
}

// IsConflict reports whether err is an id/revision conflict, which the
// migrator treats as idempotent success on record insertion.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
