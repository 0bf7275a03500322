// Package config loads service configuration from an optional TOML
// file and INTAKE_* environment variables. Environment values win.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend kinds.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendJSONFile = "jsonfile"
)

// Duration wraps time.Duration so TOML values like "30s" decode
// directly.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// Config selects the storage backend and carries its parameters.
type Config struct {
	HTTPAddr  string `toml:"http_addr"`  // INTAKE_HTTP_ADDR (default ":4318", the OTLP/HTTP port)
	AuthToken string `toml:"auth_token"` // INTAKE_AUTH_TOKEN (optional, empty = auth disabled)

	Backend     string `toml:"backend"`       // INTAKE_BACKEND: postgres | sqlite | jsonfile (default "sqlite")
	DatabaseURL string `toml:"database_url"`  // INTAKE_DATABASE_URL (required for postgres)
	TLSRootCert string `toml:"tls_root_cert"` // INTAKE_TLS_ROOT_CERT (optional, postgres only)
	SchemaFile  string `toml:"schema_file"`   // INTAKE_SCHEMA_FILE (optional custom schema, postgres/sqlite)
	SQLitePath  string `toml:"sqlite_path"`   // INTAKE_SQLITE_PATH (default "telemetry.sqlite.db")
	DataDir     string `toml:"data_dir"`      // INTAKE_DATA_DIR (default "json_files", jsonfile only)

	// FlushInterval is how often the serve loop flushes the backend so
	// buffered output becomes readable. 0 disables periodic flushing.
	FlushInterval Duration `toml:"flush_interval"` // INTAKE_FLUSH_INTERVAL (default 30s)

	// Archive settings (jsonfile only; enabled when S3Bucket is set).
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket"`   // INTAKE_ARCHIVE_S3_BUCKET
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint"` // INTAKE_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        `toml:"archive_s3_region"`   // INTAKE_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        `toml:"archive_s3_prefix"`   // INTAKE_ARCHIVE_S3_PREFIX (default "intake/")
	ArchiveInterval   Duration `toml:"archive_interval"`    // INTAKE_ARCHIVE_INTERVAL (default 3m)
}

// Load reads the optional TOML file at path (skipped when path is
// empty or missing), applies environment overrides, fills defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	c := &Config{}

	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	applyEnv(c)

	if c.HTTPAddr == "" {
		c.HTTPAddr = ":4318"
	}
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "telemetry.sqlite.db"
	}
	if c.DataDir == "" {
		c.DataDir = "json_files"
	}
	if c.FlushInterval.Duration == 0 {
		c.FlushInterval.Duration = 30 * time.Second
	}
	if c.ArchiveS3Region == "" {
		c.ArchiveS3Region = "us-east-1"
	}
	if c.ArchiveS3Prefix == "" {
		c.ArchiveS3Prefix = "intake/"
	}
	if c.ArchiveInterval.Duration == 0 {
		c.ArchiveInterval.Duration = 3 * time.Minute
	}

	switch c.Backend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return nil, fmt.Errorf("INTAKE_DATABASE_URL is required for the postgres backend")
		}
	case BackendSQLite, BackendJSONFile:
	default:
		return nil, fmt.Errorf("unknown backend %q (want postgres, sqlite, or jsonfile)", c.Backend)
	}

	return c, nil
}

func applyEnv(c *Config) {
	setString(&c.HTTPAddr, "INTAKE_HTTP_ADDR")
	setString(&c.AuthToken, "INTAKE_AUTH_TOKEN")
	setString(&c.Backend, "INTAKE_BACKEND")
	setString(&c.DatabaseURL, "INTAKE_DATABASE_URL")
	setString(&c.TLSRootCert, "INTAKE_TLS_ROOT_CERT")
	setString(&c.SchemaFile, "INTAKE_SCHEMA_FILE")
	setString(&c.SQLitePath, "INTAKE_SQLITE_PATH")
	setString(&c.DataDir, "INTAKE_DATA_DIR")
	setDuration(&c.FlushInterval, "INTAKE_FLUSH_INTERVAL")
	setString(&c.ArchiveS3Bucket, "INTAKE_ARCHIVE_S3_BUCKET")
	setString(&c.ArchiveS3Endpoint, "INTAKE_ARCHIVE_S3_ENDPOINT")
	setString(&c.ArchiveS3Region, "INTAKE_ARCHIVE_S3_REGION")
	setString(&c.ArchiveS3Prefix, "INTAKE_ARCHIVE_S3_PREFIX")
	setDuration(&c.ArchiveInterval, "INTAKE_ARCHIVE_INTERVAL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// ReadSchemaFile loads the custom schema text when configured; returns
// "" when no override is set.
func (c *Config) ReadSchemaFile() (string, error) {
	if c.SchemaFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.SchemaFile)
	if err != nil {
		return "", fmt.Errorf("read schema file: %w", err)
	}
	return string(data), nil
}
