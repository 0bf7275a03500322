// Package sqlite implements the store.Store interface backed by a
// single embedded SQLite database file. Each statement is durable once
// executed, so Flush and Commit are no-ops.
//
// The connection is single-threaded; the owning process must serialize
// all calls through one exclusive guard.
package sqlite

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/alfredjeanlab/intake/internal/model"
	"github.com/alfredjeanlab/intake/internal/store"
)

//go:embed schema.sql
var defaultSchema string

// schemaVersion is persisted in the user_version pragma so repeated
// startups do not re-apply the schema.
const schemaVersion = 1

// Options configures backend construction beyond the database path.
type Options struct {
	// CustomSchema, when non-empty, is applied instead of the
	// embedded schema the first time the database file is
	// initialized.
	CustomSchema string
}

// SqliteStore implements store.Store backed by one SQLite file.
type SqliteStore struct {
	conn *sqlite.Conn
}

// Compile-time check that SqliteStore implements store.Store.
var _ store.Store = (*SqliteStore)(nil)

// New opens (or creates) the database file at path and applies the
// schema once, gated by the user_version pragma.
func New(path string, opts Options) (*SqliteStore, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON", nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	enabled, err := pragmaInt(conn, "PRAGMA foreign_keys")
	if err != nil {
		conn.Close()
		return nil, err
	}
	if enabled == 0 {
		slog.Warn("foreign keys not enabled")
	}

	schema := defaultSchema
	if opts.CustomSchema != "" {
		schema = opts.CustomSchema
	}
	if err := applySchema(conn, schema); err != nil {
		conn.Close()
		return nil, err
	}

	return &SqliteStore{conn: conn}, nil
}

// applySchema runs the schema exactly once per database file, tracked
// by the user_version pragma, inside a transaction.
func applySchema(conn *sqlite.Conn, schema string) (err error) {
	defer sqlitex.Save(conn)(&err)

	version, err := pragmaInt(conn, "PRAGMA user_version")
	if err != nil {
		return err
	}
	if version >= schemaVersion {
		return nil
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := sqlitex.ExecuteTransient(conn,
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion), nil); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func pragmaInt(conn *sqlite.Conn, pragma string) (int64, error) {
	var value int64
	err := sqlitex.ExecuteTransient(conn, pragma, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", pragma, err)
	}
	return value, nil
}

// NewStream inserts a Stream row and returns the rowid-derived id.
func (s *SqliteStore) NewStream(_ context.Context, headers model.SerializedHeaders) (model.StreamID, error) {
	if s.conn == nil {
		return 0, store.ErrClosed
	}
	var id int64
	err := sqlitex.Execute(s.conn, `
		INSERT INTO streams (headers, start_at)
		VALUES (?, datetime('now'))
		RETURNING stream_id`,
		&sqlitex.ExecOptions{
			Args: []any{string(headers)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				id = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("insert stream: %w", err)
	}
	return model.StreamID(id), nil
}

// InsertEvent inserts one Event row referencing an existing stream.
func (s *SqliteStore) InsertEvent(_ context.Context, streamID model.StreamID, index uint64, payload []byte) error {
	if s.conn == nil {
		return store.ErrClosed
	}
	if !json.Valid(payload) {
		return fmt.Errorf("insert event: payload is not valid json")
	}
	err := sqlitex.Execute(s.conn, `
		INSERT INTO events (stream_id, stream_index, payload, insert_at)
		VALUES (?, ?, ?, datetime('now'))`,
		&sqlitex.ExecOptions{
			Args: []any{int64(streamID), int64(index), string(payload)},
		})
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Flush is a no-op; durability is per-statement.
func (s *SqliteStore) Flush(_ context.Context) error { return nil }

// Commit is a no-op; durability is per-statement.
func (s *SqliteStore) Commit(_ context.Context) error { return nil }

// CommitOnSignal reports false: nothing is buffered in-process.
func (s *SqliteStore) CommitOnSignal() bool { return false }

// Close closes the underlying connection.
func (s *SqliteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
