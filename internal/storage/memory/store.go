// Package memory keeps checkpoints and records in-process for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// CheckpointStore holds the checkpoint in memory.
type CheckpointStore struct {
	mu    sync.RWMutex
	cp    crawler.Checkpoint
	saves int
	// SaveErr, when set, is returned from every Save wrapped in a PersistenceError.
	SaveErr error
}

// NewCheckpointStore returns a store seeded with initial.
func NewCheckpointStore(initial crawler.Checkpoint) *CheckpointStore {
	return &CheckpointStore{cp: initial}
}

// Load returns the current checkpoint.
func (s *CheckpointStore) Load(_ context.Context) (crawler.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cp, nil
}

// Save replaces the checkpoint.
func (s *CheckpointStore) Save(_ context.Context, cp crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return &crawler.PersistenceError{Op: "save", Err: s.SaveErr}
	}
	s.cp = cp
	s.saves++
	return nil
}

// Saves reports how many saves succeeded.
func (s *CheckpointStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// RecordStore collects emitted records, keyed and ordered by arrival.
type RecordStore struct {
	mu      sync.RWMutex
	records []crawler.Record
	byKey   map[string]int
}

// NewRecordStore creates an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{byKey: make(map[string]int)}
}

// Emit stores record. A record with an already seen issue_id replaces the
// earlier one in place.
func (s *RecordStore) Emit(ctx context.Context, record crawler.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("emit %s: %w", record.Key(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := record.Key()
	if idx, ok := s.byKey[key]; ok && key != "" {
		s.records[idx] = record
		return nil
	}
	s.byKey[key] = len(s.records)
	s.records = append(s.records, record)
	return nil
}

// Records returns a snapshot of the stored records.
func (s *RecordStore) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns the record stored for issueID.
func (s *RecordStore) Get(issueID string) (crawler.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byKey[issueID]
	if !ok {
		return crawler.Record{}, false
	}
	return s.records[idx], true
}
