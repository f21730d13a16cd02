/*
Package store implements the durable, subscribable document store that mediates
all cross-user coordination in Kwite.

Documents are addressed by path-like composite keys and carry store-assigned
metadata: a monotonic commit sequence and server-side timestamps. Writers never
supply their own clocks. A standing subscription re-delivers the full matching
result set, in commit order, on every change under its key prefix; each snapshot
fully supersedes the previous one.

Two backends are provided: an in-memory store for development and tests, and a
PostgreSQL store using LISTEN/NOTIFY for change signaling.
*/
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrKeyExists is returned by Create when the key is already present.
	ErrKeyExists = errors.New("store: key already exists")

	// ErrNotFound is returned by Get when no document has the given key.
	ErrNotFound = errors.New("store: document not found")

	// ErrClosed is returned when the store has been shut down.
	ErrClosed = errors.New("store: closed")
)

// Document is a stored record together with its store-assigned metadata.
type Document struct {
	// Key is the path-like composite key of the document.
	Key string

	// Data is the raw JSON body of the document.
	Data []byte

	// Seq is the monotonic commit sequence assigned when the document was
	// first written. It is stable across updates and provides a total order
	// usable as a tiebreak for equal timestamps.
	Seq int64

	// CreatedAt is the server-assigned write timestamp, set exactly once.
	CreatedAt time.Time

	// UpdatedAt is the server-assigned timestamp of the latest write.
	UpdatedAt time.Time
}

// Op is a single write inside an atomic batch. Batch ops have Put semantics.
type Op struct {
	Key  string
	Data []byte
}

// Store is the durable document store interface consumed by the rest of the
// application. All methods are safe for concurrent use.
type Store interface {
	// Create inserts a new document. It fails with ErrKeyExists if the key is
	// already present; this is the store's per-document atomic primitive used
	// for uniqueness claims.
	Create(ctx context.Context, key string, data []byte) (Document, error)

	// Put upserts a document with last-writer-wins semantics. CreatedAt and
	// Seq of an existing document are preserved.
	Put(ctx context.Context, key string, data []byte) (Document, error)

	// Get returns a single document or ErrNotFound.
	Get(ctx context.Context, key string) (Document, error)

	// Update applies fn to an existing document as one atomic
	// read-modify-write, so two writers touching different fields of the
	// same document cannot lose each other's change. Returns ErrNotFound if
	// the key is absent.
	Update(ctx context.Context, key string, fn func(data []byte) ([]byte, error)) (Document, error)

	// List returns all documents under the key prefix in commit order.
	List(ctx context.Context, prefix string) ([]Document, error)

	// Batch applies all ops atomically; either every op is committed or none.
	Batch(ctx context.Context, ops []Op) error

	// Subscribe opens a standing subscription for the key prefix. The initial
	// result set is delivered immediately, then re-delivered in full on every
	// matching change. The caller must Cancel the subscription when done.
	Subscribe(ctx context.Context, prefix string) (*Subscription, error)

	// Close shuts the store down and cancels all subscriptions.
	Close()
}

// Subscription is a cancellable change stream for one key prefix.
type Subscription struct {
	updates chan []Document
	cancel  func()
}

// Updates returns the snapshot channel. The channel is closed after Cancel
// (or store shutdown); no snapshot is ever delivered after that, so a consumer
// that cancels before resubscribing cannot be repopulated by a stale callback.
func (s *Subscription) Updates() <-chan []Document {
	return s.updates
}

// Cancel terminates the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}
