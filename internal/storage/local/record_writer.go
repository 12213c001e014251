package local

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// RecordWriter emits records as JSON lines. It is safe for concurrent use.
type RecordWriter struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewRecordWriter writes lines to w. Closing the RecordWriter does not close w.
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{w: w}
}

// OpenJSONL opens path for appending, creating it and its parent directory.
func OpenJSONL(path string) (*RecordWriter, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sink path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- operator-configured output path
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	return &RecordWriter{w: f, closer: f}, nil
}

// Emit writes record followed by a newline.
func (r *RecordWriter) Emit(ctx context.Context, record crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("emit %s: %w", record.Key(), err)
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.Key(), err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(line); err != nil {
		return fmt.Errorf("write record %s: %w", record.Key(), err)
	}
	return nil
}

// Close releases the underlying file when the writer owns one.
func (r *RecordWriter) Close() error {
	if r.closer == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.closer.Close(); err != nil {
		return fmt.Errorf("close sink file: %w", err)
	}
	return nil
}
