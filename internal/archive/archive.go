// Package archive ships finished record files from the flat-file
// backend to remote storage.
package archive

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Destination is the interface for an archive target (S3, etc.).
type Destination interface {
	// Write sends the contents of one finished file under its name.
	Write(ctx context.Context, name string, data []byte) error
}

// Scheduler periodically scans a data directory for finished record
// files and uploads each one once.
//
// A file is finished when the store no longer has it open for writing;
// openFiles reports the paths still being written so a half-built zstd
// file is never shipped.
type Scheduler struct {
	dir       string
	dest      Destination
	openFiles func() []string
	interval  time.Duration
	logger    *slog.Logger

	uploaded map[string]bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that uploads finished files from dir
// to dest at the specified interval.
func NewScheduler(dir string, dest Destination, openFiles func() []string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		dir:       dir,
		dest:      dest,
		openFiles: openFiles,
		interval:  interval,
		logger:    logger,
		uploaded:  make(map[string]bool),
	}
}

// Start begins periodic archiving. It runs an initial scan immediately,
// then on each tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current scan (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	s.scanOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scheduler) scanOnce(ctx context.Context) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.jsonl.zst"))
	if err != nil {
		s.logger.Error("archive scan failed", "dir", s.dir, "err", err)
		return
	}

	open := make(map[string]bool)
	for _, p := range s.openFiles() {
		open[p] = true
	}

	shipped := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		name := filepath.Base(path)
		if s.uploaded[name] || open[path] {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.Error("archive read failed", "file", name, "err", err)
			continue
		}
		if err := s.dest.Write(ctx, name, data); err != nil {
			s.logger.Error("archive upload failed", "file", name, "err", err)
			continue
		}
		s.uploaded[name] = true
		shipped++
	}

	if shipped > 0 {
		s.logger.Info("archive completed", "files", shipped)
	}
}
