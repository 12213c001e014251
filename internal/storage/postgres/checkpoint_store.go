package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// DefaultCheckpointTable holds one checkpoint row per crawl name.
const DefaultCheckpointTable = "crawl_checkpoints"

// CheckpointStore persists the checkpoint as a JSONB row keyed by name.
type CheckpointStore struct {
	pool   dbPool
	table  string
	name   string
	logger *zap.Logger
}

// NewCheckpointStore builds a store over pool. Each name is an independent cursor.
func NewCheckpointStore(pool dbPool, table, name string, logger *zap.Logger) (*CheckpointStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table, DefaultCheckpointTable)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointStore{pool: pool, table: table, name: name, logger: logger}, nil
}

// EnsureSchema creates the checkpoint table when missing.
func (s *CheckpointStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	name TEXT PRIMARY KEY,
	state JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Load returns the stored checkpoint, or an empty one when no row exists.
func (s *CheckpointStore) Load(ctx context.Context) (crawler.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT state FROM %s WHERE name = $1`, s.table)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, s.name).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Checkpoint{}, nil
		}
		return crawler.Checkpoint{}, fmt.Errorf("load checkpoint %q: %w", s.name, err)
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		s.logger.Warn("checkpoint row corrupt, starting fresh", zap.String("name", s.name), zap.Error(err))
		return crawler.Checkpoint{}, nil
	}
	if cp.Search.LastStartAt < 0 {
		s.logger.Warn("checkpoint row offset negative, starting fresh",
			zap.String("name", s.name),
			zap.Int("last_startAt", cp.Search.LastStartAt),
		)
		return crawler.Checkpoint{}, nil
	}
	return cp, nil
}

// Save upserts the checkpoint row in a single statement.
func (s *CheckpointStore) Save(ctx context.Context, cp crawler.Checkpoint) error {
	state, err := json.Marshal(cp)
	if err != nil {
		return &crawler.PersistenceError{Op: "encode", Err: err}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (name, state, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, s.name, state); err != nil {
		return &crawler.PersistenceError{Op: "upsert", Err: err}
	}
	return nil
}
