package jsonfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/alfredjeanlab/intake/internal/idgen"
)

// Writer owns one rotating, zstd-compressed output file for a single
// table. It is either closed (no file open) or open (a file exists and
// an encoder is actively wrapping it).
//
// Flush ends the current compressed frame and immediately starts a new
// one on the same file, so everything written so far becomes
// independently decodable without rotating. FinishFile ends the frame
// and releases the file entirely; the next Write opens a fresh,
// uniquely named file.
//
// Not safe for concurrent use.
type Writer struct {
	dir   string
	table string

	file *os.File
	enc  *zstd.Encoder
}

// NewWriter returns a closed Writer for the given table. No file is
// created until the first Write.
func NewWriter(dir, table string) *Writer {
	return &Writer{dir: dir, table: table}
}

// Write feeds p into the compressor, opening a new output file first
// if the writer is closed. Implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.enc == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	return w.enc.Write(p)
}

// open finalizes any stale handle, then creates a brand-new uniquely
// named file and attaches a fresh compressed frame to it.
func (w *Writer) open() error {
	if err := w.FinishFile(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	suffix, err := idgen.Generate()
	if err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s.%s.jsonl.zst", w.table, suffix))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", path, err)
	}

	enc, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("create encoder: %w", err)
	}

	w.file = file
	w.enc = enc
	return nil
}

// Flush ends the current compressed frame and starts a new one on the
// same file. The file then holds a sequence of back-to-back,
// independently decodable frames. No-op when closed.
func (w *Writer) Flush() error {
	if w.enc == nil {
		return nil
	}
	if err := w.enc.Close(); err != nil {
		return fmt.Errorf("finish frame: %w", err)
	}
	w.enc.Reset(w.file)
	return nil
}

// FinishFile ends the current frame and releases the file, returning
// the writer to the closed state. No-op when already closed.
func (w *Writer) FinishFile() error {
	if w.enc == nil {
		return nil
	}
	encErr := w.enc.Close()
	fileErr := w.file.Close()
	w.enc = nil
	w.file = nil
	if encErr != nil {
		return fmt.Errorf("finish frame: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("close file: %w", fileErr)
	}
	return nil
}

// Path returns the path of the currently open file, or "" when closed.
func (w *Writer) Path() string {
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}
