// Package local implements filesystem-backed checkpoint and record storage.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// CheckpointStore keeps the checkpoint in a single JSON file.
type CheckpointStore struct {
	path   string
	logger *zap.Logger
}

// NewCheckpointStore creates a store for path. The file need not exist.
func NewCheckpointStore(path string, logger *zap.Logger) (*CheckpointStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointStore{path: path, logger: logger}, nil
}

// Path returns the canonical checkpoint file.
func (s *CheckpointStore) Path() string {
	return s.path
}

// Load reads the checkpoint. A missing or unreadable file yields an empty
// checkpoint so the crawl starts from the beginning.
func (s *CheckpointStore) Load(_ context.Context) (crawler.Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("checkpoint unreadable, starting fresh", zap.String("path", s.path), zap.Error(err))
		}
		return crawler.Checkpoint{}, nil
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("checkpoint corrupt, starting fresh", zap.String("path", s.path), zap.Error(err))
		return crawler.Checkpoint{}, nil
	}
	if cp.Search.LastStartAt < 0 {
		s.logger.Warn("checkpoint offset negative, starting fresh",
			zap.String("path", s.path),
			zap.Int("last_startAt", cp.Search.LastStartAt),
		)
		return crawler.Checkpoint{}, nil
	}
	return cp, nil
}

// Save replaces the checkpoint file atomically: the new content is written
// and synced to a sibling temp file, which is then renamed over the target.
func (s *CheckpointStore) Save(_ context.Context, cp crawler.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return &crawler.PersistenceError{Op: "encode", Err: err}
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return &crawler.PersistenceError{Op: "mkdir", Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &crawler.PersistenceError{Op: "create temp", Err: err}
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return &crawler.PersistenceError{Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &crawler.PersistenceError{Op: "sync", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &crawler.PersistenceError{Op: "close", Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return &crawler.PersistenceError{Op: "rename", Err: err}
	}
	committed = true
	syncDir(dir)
	return nil
}

// syncDir flushes the rename to disk where the platform allows it.
func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 -- directory of the configured checkpoint path
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
