// Package gcs stores checkpoints and issue records in Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

const jsonContentType = "application/json"

// Config captures the bucket layout.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
	// CheckpointName selects the checkpoint object under Prefix/checkpoints.
	CheckpointName string
}

func (c Config) validate(client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("bucket name is required")
	}
	return nil
}

func (c Config) object(parts ...string) string {
	return path.Join(append([]string{strings.Trim(c.Prefix, "/")}, parts...)...)
}

// CheckpointStore keeps the checkpoint in a single object. Object writes are
// atomic, so readers see either the prior or the new checkpoint.
type CheckpointStore struct {
	client *storage.Client
	bucket string
	object string
	logger *zap.Logger
}

// NewCheckpointStore creates a GCS-backed checkpoint store.
func NewCheckpointStore(client *storage.Client, cfg Config, logger *zap.Logger) (*CheckpointStore, error) {
	if err := cfg.validate(client); err != nil {
		return nil, err
	}
	name := cfg.CheckpointName
	if name == "" {
		name = "default"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CheckpointStore{
		client: client,
		bucket: cfg.Bucket,
		object: cfg.object("checkpoints", name+".json"),
		logger: logger,
	}, nil
}

// Object returns the checkpoint object name.
func (s *CheckpointStore) Object() string {
	return s.object
}

// Load reads the checkpoint object. A missing object is a fresh crawl.
func (s *CheckpointStore) Load(ctx context.Context) (crawler.Checkpoint, error) {
	reader, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return crawler.Checkpoint{}, nil
		}
		return crawler.Checkpoint{}, fmt.Errorf("open checkpoint object: %w", err)
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			s.logger.Warn("close checkpoint reader", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return crawler.Checkpoint{}, fmt.Errorf("read checkpoint object: %w", err)
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.Warn("checkpoint object corrupt, starting fresh", zap.String("object", s.object), zap.Error(err))
		return crawler.Checkpoint{}, nil
	}
	if cp.Search.LastStartAt < 0 {
		s.logger.Warn("checkpoint object offset negative, starting fresh",
			zap.String("object", s.object),
			zap.Int("last_startAt", cp.Search.LastStartAt),
		)
		return crawler.Checkpoint{}, nil
	}
	return cp, nil
}

// Save uploads the checkpoint, replacing the previous object.
func (s *CheckpointStore) Save(ctx context.Context, cp crawler.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return &crawler.PersistenceError{Op: "encode", Err: err}
	}
	if err := putObject(ctx, s.client, s.bucket, s.object, data); err != nil {
		return &crawler.PersistenceError{Op: "upload", Err: err}
	}
	return nil
}

// RecordStore writes each record to its own object named by issue_id, so a
// re-emitted issue overwrites its earlier copy.
type RecordStore struct {
	client *storage.Client
	cfg    Config
}

// NewRecordStore creates a GCS-backed sink.
func NewRecordStore(client *storage.Client, cfg Config) (*RecordStore, error) {
	if err := cfg.validate(client); err != nil {
		return nil, err
	}
	return &RecordStore{client: client, cfg: cfg}, nil
}

// ObjectName returns the object path used for issueID.
func (s *RecordStore) ObjectName(issueID string) string {
	return s.cfg.object("issues", issueID+".json")
}

// Emit uploads record.
func (s *RecordStore) Emit(ctx context.Context, record crawler.Record) error {
	key := record.Key()
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("record issue_id is required")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", key, err)
	}
	if err := putObject(ctx, s.client, s.cfg.Bucket, s.ObjectName(key), data); err != nil {
		return fmt.Errorf("upload record %s: %w", key, err)
	}
	return nil
}

func putObject(ctx context.Context, client *storage.Client, bucket, name string, data []byte) error {
	writer := client.Bucket(bucket).Object(name).NewWriter(ctx)
	writer.ContentType = jsonContentType
	if _, err := writer.Write(data); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object %s: %w (close writer: %v)", name, err, closeErr)
		}
		return fmt.Errorf("write object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", name, err)
	}
	return nil
}
