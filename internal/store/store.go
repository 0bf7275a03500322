// Package store defines the persistence contract shared by the
// interchangeable storage backends.
package store

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/intake/internal/model"
)

// ErrClosed is returned by operations issued after Close.
var ErrClosed = errors.New("store is closed")

// Store is the uniform contract over the storage backends (postgres,
// sqlite, flat files).
//
// A Store is a single mutable handle: implementations do not lock
// internally, and callers sharing one instance across requests must
// serialize every call through one exclusive guard. There is no
// mid-operation cancellation; a call already issued runs to
// completion.
type Store interface {
	// NewStream persists a new Stream and returns its id. It must
	// succeed before any event referencing the id is submitted.
	NewStream(ctx context.Context, headers model.SerializedHeaders) (model.StreamID, error)

	// InsertEvent persists one event. The payload must be a single
	// well-formed JSON value; index is caller-assigned and increases
	// monotonically within a stream.
	InsertEvent(ctx context.Context, streamID model.StreamID, index uint64, payload []byte) error

	// Flush makes buffered output visible to readers without closing
	// resources. No-op for backends that are durable per write.
	Flush(ctx context.Context) error

	// Commit finalizes all output written so far to a state readers
	// can rely on being complete. No-op for backends that are durable
	// per write.
	Commit(ctx context.Context) error

	// CommitOnSignal reports whether the owning process must call
	// Commit before terminating on an interrupt, because the backend
	// buffers bytes that would otherwise be lost.
	CommitOnSignal() bool

	// Close releases the backend. Buffering backends finalize any
	// open output so no truncated data is left behind.
	Close() error
}
