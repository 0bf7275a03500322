// Package server exposes the HTTP ingestion endpoint and owns the
// exclusive guard around the storage backend.
package server

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alfredjeanlab/intake/internal/model"
	"github.com/alfredjeanlab/intake/internal/store"
)

// IngestServer drives request bodies through the splitter and into a
// single storage backend.
//
// The backend is a single mutable handle with no internal locking, so
// every call goes through mu: strict per-call mutual exclusion, no
// ordering guarantee beyond arrival at the guard. The signal handler
// and the flush ticker share the same guard via Commit and Flush.
type IngestServer struct {
	mu     sync.Mutex
	store  store.Store
	logger *slog.Logger
}

// NewIngestServer returns a server backed by the given store.
func NewIngestServer(s store.Store, logger *slog.Logger) *IngestServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestServer{store: s, logger: logger}
}

func (s *IngestServer) newStream(ctx context.Context, headers model.SerializedHeaders) (model.StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.NewStream(ctx, headers)
}

func (s *IngestServer) insertEvent(ctx context.Context, id model.StreamID, index uint64, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.InsertEvent(ctx, id, index, payload)
}

// Flush flushes the backend under the store guard.
func (s *IngestServer) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Flush(ctx)
}

// Commit commits the backend under the store guard. Called by the
// hosting process on interrupt when CommitOnSignal reports true.
func (s *IngestServer) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Commit(ctx)
}

// CommitOnSignal reports whether the backend requires a commit before
// the process exits on an interrupt.
func (s *IngestServer) CommitOnSignal() bool {
	return s.store.CommitOnSignal()
}
