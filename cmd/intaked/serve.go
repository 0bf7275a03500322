package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/intake/internal/archive"
	"github.com/alfredjeanlab/intake/internal/config"
	"github.com/alfredjeanlab/intake/internal/server"
	"github.com/alfredjeanlab/intake/internal/store"
	"github.com/alfredjeanlab/intake/internal/store/jsonfile"
	"github.com/alfredjeanlab/intake/internal/store/postgres"
	"github.com/alfredjeanlab/intake/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		// Load configuration.
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		// Open the storage backend.
		backend, jf, err := openBackend(cfg)
		if err != nil {
			return err
		}
		logger.Info("storage backend ready", "backend", cfg.Backend)

		ingestServer := server.NewIngestServer(backend, logger)

		// Start HTTP server.
		httpServer := &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: ingestServer.NewHTTPHandler(cfg.AuthToken),
		}

		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		// Periodic flush so buffered output becomes readable between
		// commits. 0 disables it.
		flushDone := make(chan struct{})
		if cfg.FlushInterval.Duration > 0 {
			go func() {
				ticker := time.NewTicker(cfg.FlushInterval.Duration)
				defer ticker.Stop()
				for {
					select {
					case <-flushDone:
						return
					case <-ticker.C:
						if err := ingestServer.Flush(context.Background()); err != nil {
							logger.Error("periodic flush failed", "err", err)
						}
					}
				}
			}()
			logger.Info("periodic flush enabled", "interval", cfg.FlushInterval.Duration)
		}

		// Start the archive scheduler when the flat-file backend has a
		// bucket configured.
		var scheduler *archive.Scheduler
		if jf != nil && cfg.ArchiveS3Bucket != "" {
			s3Dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Prefix,
				cfg.ArchiveS3Region,
				cfg.ArchiveS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				scheduler = archive.NewScheduler(cfg.DataDir, s3Dest, jf.OpenFiles, cfg.ArchiveInterval.Duration, logger)
				scheduler.Start()
				logger.Info("archive scheduler started", "bucket", cfg.ArchiveS3Bucket, "interval", cfg.ArchiveInterval.Duration)
			}
		}

		// Wait for SIGINT or SIGTERM.
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Graceful shutdown: stop accepting requests first so no insert
		// races the final commit.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		close(flushDone)

		if scheduler != nil {
			scheduler.Stop()
			logger.Info("archive scheduler stopped")
		}

		if ingestServer.CommitOnSignal() {
			if err := ingestServer.Commit(context.Background()); err != nil {
				logger.Error("final commit failed", "err", err)
			} else {
				logger.Info("final commit complete")
			}
		}

		if err := backend.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}

// openBackend builds the configured store. The second return value is
// non-nil only for the flat-file backend, which exposes its open files
// to the archive scheduler.
func openBackend(cfg *config.Config) (store.Store, *jsonfile.JsonFileStore, error) {
	schema, err := cfg.ReadSchemaFile()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case config.BackendPostgres:
		s, err := postgres.New(cfg.DatabaseURL, postgres.Options{
			CustomSchema: schema,
			TLSRootCert:  cfg.TLSRootCert,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil, nil
	case config.BackendSQLite:
		s, err := sqlite.New(cfg.SQLitePath, sqlite.Options{CustomSchema: schema})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil, nil
	case config.BackendJSONFile:
		s := jsonfile.New(cfg.DataDir)
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
