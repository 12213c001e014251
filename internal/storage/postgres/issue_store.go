package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// DefaultIssueTable stores one row per issue.
const DefaultIssueTable = "issues"

// IssueStore is a crawler.Sink that upserts records keyed by issue_id, so
// re-emitted issues after a resume overwrite their earlier rows.
type IssueStore struct {
	pool  dbPool
	table string
}

// NewIssueStore builds an IssueStore over pool.
func NewIssueStore(pool dbPool, table string) (*IssueStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultIssueTable)
	if err != nil {
		return nil, err
	}
	return &IssueStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the issue table when missing.
func (s *IssueStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	issue_id TEXT PRIMARY KEY,
	raw_source_date TEXT,
	record JSONB NOT NULL,
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create issue table: %w", err)
	}
	return nil
}

// Emit upserts record.
func (s *IssueStore) Emit(ctx context.Context, record crawler.Record) error {
	key := record.Key()
	if key == "" {
		return fmt.Errorf("record issue_id is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (issue_id, raw_source_date, record, ingested_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (issue_id) DO UPDATE SET
	raw_source_date = EXCLUDED.raw_source_date,
	record = EXCLUDED.record,
	ingested_at = EXCLUDED.ingested_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, record.RawSourceDate, payload); err != nil {
		return fmt.Errorf("upsert issue %s: %w", key, err)
	}
	return nil
}
