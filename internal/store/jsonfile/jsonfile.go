// Package jsonfile implements the store.Store interface on top of
// rotating, zstd-compressed flat files. Records are newline-delimited
// JSON inside each compressed frame.
//
// This is the only backend that buffers bytes in-process: the
// compressor withholds output until a frame boundary, so data written
// since the last Flush or Commit is invisible to readers until one of
// them runs. CommitOnSignal reports true for exactly that reason.
package jsonfile

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alfredjeanlab/intake/internal/model"
	"github.com/alfredjeanlab/intake/internal/store"
)

// JsonFileStore implements store.Store with two rotating writers, one
// per table. It accepts records independently and performs no
// cross-record validation: an event's stream id is stored as given.
type JsonFileStore struct {
	streams *Writer
	events  *Writer
	closed  bool
}

// Compile-time check that JsonFileStore implements store.Store.
var _ store.Store = (*JsonFileStore)(nil)

// New returns a store writing into dir. No files are created until the
// first record arrives.
func New(dir string) *JsonFileStore {
	return &JsonFileStore{
		streams: NewWriter(dir, "streams"),
		events:  NewWriter(dir, "events"),
	}
}

// randomStreamID draws an id from a wide random space. With no shared
// sequence across processes, global uniqueness is probabilistic.
func randomStreamID() (model.StreamID, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generate stream id: %w", err)
	}
	return model.StreamID(binary.BigEndian.Uint64(buf[:]) >> 1), nil
}

// NewStream writes a stream record with a random id.
func (s *JsonFileStore) NewStream(_ context.Context, headers model.SerializedHeaders) (model.StreamID, error) {
	if s.closed {
		return 0, store.ErrClosed
	}
	id, err := randomStreamID()
	if err != nil {
		return 0, err
	}
	record := model.Stream{
		ID:      id,
		Headers: headers,
		StartAt: time.Now().UTC(),
	}
	if err := writeRecord(s.streams, record); err != nil {
		return 0, fmt.Errorf("write stream record: %w", err)
	}
	return id, nil
}

// InsertEvent writes an event record.
func (s *JsonFileStore) InsertEvent(_ context.Context, streamID model.StreamID, index uint64, payload []byte) error {
	if s.closed {
		return store.ErrClosed
	}
	if !json.Valid(payload) {
		return fmt.Errorf("insert event: payload is not valid json")
	}
	record := model.Event{
		StreamID: streamID,
		Index:    index,
		Payload:  payload,
		InsertAt: time.Now().UTC(),
	}
	if err := writeRecord(s.events, record); err != nil {
		return fmt.Errorf("write event record: %w", err)
	}
	return nil
}

// writeRecord serializes one record as a JSON line.
func writeRecord(w *Writer, record any) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Flush ends the current frame on both writers; the same files stay
// open for further appends.
func (s *JsonFileStore) Flush(_ context.Context) error {
	if s.closed {
		return store.ErrClosed
	}
	if err := s.streams.Flush(); err != nil {
		return err
	}
	return s.events.Flush()
}

// Commit finishes both files outright; the next write starts new files.
func (s *JsonFileStore) Commit(_ context.Context) error {
	if s.closed {
		return store.ErrClosed
	}
	if err := s.streams.FinishFile(); err != nil {
		return err
	}
	return s.events.FinishFile()
}

// CommitOnSignal reports true: buffered-but-unflushed bytes are lost
// if the process terminates without a commit.
func (s *JsonFileStore) CommitOnSignal() bool { return true }

// OpenFiles returns the paths currently held open for writing. Used by
// the archive scheduler to skip unfinished output.
func (s *JsonFileStore) OpenFiles() []string {
	var paths []string
	for _, w := range []*Writer{s.streams, s.events} {
		if p := w.Path(); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// Close finalizes any open frames and releases both files. Safe to
// call more than once.
func (s *JsonFileStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	streamsErr := s.streams.FinishFile()
	eventsErr := s.events.FinishFile()
	if streamsErr != nil {
		return streamsErr
	}
	return eventsErr
}
