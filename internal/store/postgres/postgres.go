// Package postgres implements the store.Store interface backed by
// PostgreSQL. Every write is an individually durable statement, so
// Flush and Commit are no-ops.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/intake/internal/model"
	"github.com/alfredjeanlab/intake/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Options configures backend construction beyond the connection URL.
type Options struct {
	// CustomSchema, when non-empty, is executed verbatim instead of
	// the embedded migrations. The text must be idempotent; no
	// version tracking is applied to it.
	CustomSchema string

	// TLSRootCert is a path to a PEM root certificate. When set, the
	// connection verifies the server against it (sslmode=verify-full,
	// sslrootcert=<path>).
	TLSRootCert string
}

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the database at the given URL and applies
// the schema. Construction failures are fatal to the caller; they are
// never retried per-request.
func New(databaseURL string, opts Options) (*PostgresStore, error) {
	dsn, err := applyTLS(databaseURL, opts.TLSRootCert)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// The store is a single mutable handle; one connection keeps the
	// driver's behavior aligned with that contract.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if opts.CustomSchema != "" {
		if _, err := db.Exec(opts.CustomSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply custom schema: %w", err)
		}
	} else if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// applyTLS rewrites the connection string to verify the server against
// the given root certificate. URL-form and keyword-form strings are
// both accepted, matching lib/pq.
func applyTLS(databaseURL, rootCert string) (string, error) {
	if rootCert == "" {
		return databaseURL, nil
	}
	if strings.Contains(databaseURL, "://") {
		u, err := url.Parse(databaseURL)
		if err != nil {
			return "", fmt.Errorf("parse database url: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-full")
		q.Set("sslrootcert", rootCert)
		u.RawQuery = q.Encode()
		return u.String(), nil
	}
	return databaseURL + " sslmode=verify-full sslrootcert=" + rootCert, nil
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// NewStream inserts a Stream row and returns the database-generated id.
func (s *PostgresStore) NewStream(ctx context.Context, headers model.SerializedHeaders) (model.StreamID, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO streams (headers, start_at)
		VALUES ($1, NOW())
		RETURNING stream_id`,
		[]byte(headers),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert stream: %w", err)
	}
	return model.StreamID(id), nil
}

// InsertEvent inserts one Event row referencing an existing stream.
func (s *PostgresStore) InsertEvent(ctx context.Context, streamID model.StreamID, index uint64, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("insert event: payload is not valid json")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (stream_id, stream_index, payload, insert_at)
		VALUES ($1, $2, $3, NOW())`,
		int64(streamID),
		int64(index),
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Flush is a no-op; durability is per-statement.
func (s *PostgresStore) Flush(_ context.Context) error { return nil }

// Commit is a no-op; durability is per-statement.
func (s *PostgresStore) Commit(_ context.Context) error { return nil }

// CommitOnSignal reports false: nothing is buffered in-process.
func (s *PostgresStore) CommitOnSignal() bool { return false }

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
