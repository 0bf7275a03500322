package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfredjeanlab/intake/internal/model"
)

// mockStore implements store.Store in memory with per-record
// durability (every insert is immediately visible).
type mockStore struct {
	nextID  model.StreamID
	streams map[model.StreamID]model.SerializedHeaders
	events  []model.Event

	flushes int
	commits int

	commitOnSignal bool
	newStreamErr   error
	insertErr      error
	insertErrAfter int // error once this many events are stored, when insertErr set
}

func newMockStore() *mockStore {
	return &mockStore{
		nextID:  1,
		streams: make(map[model.StreamID]model.SerializedHeaders),
	}
}

func (m *mockStore) NewStream(_ context.Context, headers model.SerializedHeaders) (model.StreamID, error) {
	if m.newStreamErr != nil {
		return 0, m.newStreamErr
	}
	id := m.nextID
	m.nextID++
	m.streams[id] = headers
	return id, nil
}

func (m *mockStore) InsertEvent(_ context.Context, streamID model.StreamID, index uint64, payload []byte) error {
	if m.insertErr != nil && len(m.events) >= m.insertErrAfter {
		return m.insertErr
	}
	if _, ok := m.streams[streamID]; !ok {
		return errors.New("unknown stream")
	}
	m.events = append(m.events, model.Event{
		StreamID: streamID,
		Index:    index,
		Payload:  append([]byte(nil), payload...),
	})
	return nil
}

func (m *mockStore) Flush(_ context.Context) error  { m.flushes++; return nil }
func (m *mockStore) Commit(_ context.Context) error { m.commits++; return nil }
func (m *mockStore) CommitOnSignal() bool           { return m.commitOnSignal }
func (m *mockStore) Close() error                   { return nil }

// chunkedReader yields its chunks one per Read call, then err (io.EOF
// by default). It forces the handler to see the exact chunk boundaries
// a slow client would produce.
type chunkedReader struct {
	chunks []string
	err    error
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if c.chunks[0] == "" {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func postIngest(t *testing.T, srv *IngestServer, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", body)
	rec := httptest.NewRecorder()
	srv.NewHTTPHandler("").ServeHTTP(rec, req)
	return rec
}

func TestIngest_TwoValuesSplitMidObject(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	// `{"a":1}{"b":2}` split inside the second object.
	body := &chunkedReader{chunks: []string{`{"a":1}{"b"`, `:2}`}}
	rec := postIngest(t, srv, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("success response has body %q, want empty", rec.Body.String())
	}
	if len(ms.streams) != 1 {
		t.Fatalf("streams created = %d, want 1", len(ms.streams))
	}
	if len(ms.events) != 2 {
		t.Fatalf("events stored = %d, want 2", len(ms.events))
	}
	if string(ms.events[0].Payload) != `{"a":1}` || string(ms.events[1].Payload) != `{"b":2}` {
		t.Errorf("payloads = %s, %s", ms.events[0].Payload, ms.events[1].Payload)
	}
	if ms.events[0].Index != 0 || ms.events[1].Index != 1 {
		t.Errorf("indices = %d, %d, want 0, 1", ms.events[0].Index, ms.events[1].Index)
	}
}

func TestIngest_GarbageAfterValue(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	rec := postIngest(t, srv, strings.NewReader(`{"a":1} garbage`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	// This store is durable per record: the leading value stays stored.
	if len(ms.events) != 1 {
		t.Errorf("events stored = %d, want 1", len(ms.events))
	}
}

func TestIngest_TruncatedBody(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	rec := postIngest(t, srv, strings.NewReader(`{"a":1}{"b":`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(ms.events) != 1 {
		t.Errorf("events stored = %d, want 1 (complete value before truncation)", len(ms.events))
	}
}

func TestIngest_SameBytesCompletedSucceed(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	rec := postIngest(t, srv, &chunkedReader{chunks: []string{`{"a":1}{"b":`, `2}`}})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ms.events) != 2 {
		t.Errorf("events stored = %d, want 2", len(ms.events))
	}
}

func TestIngest_EmptyBody(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	rec := postIngest(t, srv, strings.NewReader(""))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ms.streams) != 0 {
		t.Errorf("streams created for empty body = %d, want 0", len(ms.streams))
	}
}

func TestIngest_WhitespaceOnlyBody(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	rec := postIngest(t, srv, strings.NewReader(" \n\t "))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ms.streams) != 0 {
		t.Errorf("streams created for whitespace body = %d, want 0", len(ms.streams))
	}
}

func TestIngest_StorageErrorOnInsert(t *testing.T) {
	ms := newMockStore()
	ms.insertErr = errors.New("disk full")
	ms.insertErrAfter = 1
	srv := NewIngestServer(ms, nil)

	rec := postIngest(t, srv, strings.NewReader(`{"a":1}{"b":2}{"c":3}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	// Records stored before the failure are not rolled back.
	if len(ms.events) != 1 {
		t.Errorf("events stored = %d, want 1", len(ms.events))
	}
}

func TestIngest_StorageErrorOnNewStream(t *testing.T) {
	ms := newMockStore()
	ms.newStreamErr = errors.New("connection lost")
	srv := NewIngestServer(ms, nil)

	rec := postIngest(t, srv, strings.NewReader(`{"a":1}`))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if len(ms.events) != 0 {
		t.Errorf("events stored = %d, want 0", len(ms.events))
	}
}

func TestIngest_TransportError(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	body := &chunkedReader{chunks: []string{`{"a":1}`}, err: errors.New("connection reset")}
	rec := postIngest(t, srv, body)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestIngest_HeadersSerialized(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"a":1}`))
	req.Header.Set("User-Agent", "probe/1.0")
	rec := httptest.NewRecorder()
	srv.NewHTTPHandler("").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ms.streams) != 1 {
		t.Fatalf("streams created = %d, want 1", len(ms.streams))
	}
	for _, headers := range ms.streams {
		if !strings.Contains(string(headers), "probe/1.0") {
			t.Errorf("stored headers %s do not carry the request header", headers)
		}
	}
}

func TestIngest_RootRouteAlias(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	rec := httptest.NewRecorder()
	srv.NewHTTPHandler("").ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(ms.events) != 1 {
		t.Errorf("events stored = %d, want 1", len(ms.events))
	}
}

func TestAuth(t *testing.T) {
	ms := newMockStore()
	srv := NewIngestServer(ms, nil)
	handler := srv.NewHTTPHandler("secret")

	// Missing token.
	req := httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"a":1}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d, want 401", rec.Code)
	}

	// Wrong token.
	req = httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"a":1}`))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	// Correct token.
	req = httptest.NewRequest(http.MethodPost, "/v1/ingest", strings.NewReader(`{"a":1}`))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct token: status = %d, want 200", rec.Code)
	}

	// Health is exempt.
	req = httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health without token: status = %d, want 200", rec.Code)
	}
}

func TestCommitAndFlushPassThrough(t *testing.T) {
	ms := newMockStore()
	ms.commitOnSignal = true
	srv := NewIngestServer(ms, nil)

	if !srv.CommitOnSignal() {
		t.Error("CommitOnSignal() = false, want passthrough true")
	}
	if err := srv.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ms.commits != 1 {
		t.Errorf("commits = %d, want 1", ms.commits)
	}
	if err := srv.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if ms.flushes != 1 {
		t.Errorf("flushes = %d, want 1", ms.flushes)
	}
}
