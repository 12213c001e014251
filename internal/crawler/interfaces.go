package crawler

import (
	"context"
	"time"
)

// Requester performs HTTP GETs on behalf of the crawl core. Retries, timeouts,
// and connection reuse belong to the implementation.
type Requester interface {
	Get(ctx context.Context, request Request) (Response, error)
}

// CheckpointStore persists crawl progress.
type CheckpointStore interface {
	// Load returns the last saved checkpoint, or an empty one for a fresh crawl.
	Load(ctx context.Context) (Checkpoint, error)
	// Save durably replaces the stored checkpoint. Failures are *PersistenceError.
	Save(ctx context.Context, checkpoint Checkpoint) error
}

// Sink consumes normalized records.
type Sink interface {
	Emit(ctx context.Context, record Record) error
}

// RetryPolicy decides whether and when a failed request is re-attempted.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
