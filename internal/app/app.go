// Package app builds the crawler's long-lived services from configuration and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/clock/system"
	"github.com/JakeFAU/jira-issue-crawler/internal/config"
	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/jira-issue-crawler/internal/fetcher/colly"
	restyfetcher "github.com/JakeFAU/jira-issue-crawler/internal/fetcher/resty"
	"github.com/JakeFAU/jira-issue-crawler/internal/id/uuid"
	"github.com/JakeFAU/jira-issue-crawler/internal/jira"
	"github.com/JakeFAU/jira-issue-crawler/internal/orchestrator"
	"github.com/JakeFAU/jira-issue-crawler/internal/policy/ratelimit"
	pubsubsink "github.com/JakeFAU/jira-issue-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/jira-issue-crawler/internal/schema"
	"github.com/JakeFAU/jira-issue-crawler/internal/storage/gcs"
	"github.com/JakeFAU/jira-issue-crawler/internal/storage/local"
	"github.com/JakeFAU/jira-issue-crawler/internal/storage/memory"
	"github.com/JakeFAU/jira-issue-crawler/internal/storage/postgres"
)

// App holds the services a command needs. Orchestrator and Sink are nil for
// an App opened with OpenCheckpoints.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Checkpoints  crawler.CheckpointStore
	Sink         crawler.Sink
	Orchestrator *orchestrator.Orchestrator

	opts    options
	pool    *pgxpool.Pool
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

type options struct {
	gcsClient    *storage.Client
	pubsubClient *pubsub.Client
	stdout       io.Writer
}

// Option customizes how services are built.
type Option func(*options)

// WithGCSClient reuses client instead of dialing Cloud Storage.
func WithGCSClient(client *storage.Client) Option {
	return func(o *options) { o.gcsClient = client }
}

// WithPubSubClient reuses client instead of dialing Pub/Sub.
func WithPubSubClient(client *pubsub.Client) Option {
	return func(o *options) { o.pubsubClient = client }
}

// WithStdout redirects the stdout sink.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// New builds every service needed for a crawl. It fails fast and releases
// anything already opened when a service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.ValidateCrawl(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}
	a, err := OpenCheckpoints(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.buildSink(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildOrchestrator(); err != nil {
		a.Close()
		return nil, err
	}
	a.Logger.Info("application services initialized",
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
		zap.String("sink", cfg.Sink.Kind),
		zap.String("http_client", cfg.HTTP.Client),
	)
	return a, nil
}

// OpenCheckpoints builds only the checkpoint store.
func OpenCheckpoints(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, opts: options{stdout: os.Stdout}}
	for _, opt := range opts {
		opt(&a.opts)
	}
	if err := a.buildCheckpoints(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) buildCheckpoints(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger.Named("checkpoint")
	switch cfg.Checkpoint.Backend {
	case config.BackendFile:
		store, err := local.NewCheckpointStore(cfg.Checkpoint.Path, logger)
		if err != nil {
			return fmt.Errorf("init file checkpoint store: %w", err)
		}
		logger.Debug("file checkpoint store ready", zap.String("path", store.Path()))
		a.Checkpoints = store
	case config.BackendMemory:
		a.Checkpoints = memory.NewCheckpointStore(crawler.Checkpoint{})
	case config.BackendPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return err
		}
		store, err := postgres.NewCheckpointStore(pool, cfg.DB.CheckpointTable, cfg.Checkpoint.Name, logger)
		if err != nil {
			return fmt.Errorf("init postgres checkpoint store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Checkpoints = store
	case config.BackendGCS:
		client, err := a.gcsClient(ctx)
		if err != nil {
			return err
		}
		store, err := gcs.NewCheckpointStore(client, a.gcsConfig(), logger)
		if err != nil {
			return fmt.Errorf("init gcs checkpoint store: %w", err)
		}
		logger.Debug("gcs checkpoint store ready",
			zap.String("bucket", cfg.Storage.GCSBucket),
			zap.String("object", store.Object()),
		)
		a.Checkpoints = store
	default:
		return fmt.Errorf("unknown checkpoint backend: %s", cfg.Checkpoint.Backend)
	}
	return nil
}

func (a *App) buildSink(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Sink.Kind {
	case config.SinkJSONL:
		w, err := local.OpenJSONL(cfg.Sink.Path)
		if err != nil {
			return fmt.Errorf("init jsonl sink: %w", err)
		}
		a.onClose("jsonl sink", w.Close)
		a.Sink = w
	case config.SinkStdout:
		a.Sink = local.NewRecordWriter(a.opts.stdout)
	case config.SinkMemory:
		a.Sink = memory.NewRecordStore()
	case config.SinkPostgres:
		pool, err := a.postgresPool(ctx)
		if err != nil {
			return err
		}
		store, err := postgres.NewIssueStore(pool, cfg.DB.IssueTable)
		if err != nil {
			return fmt.Errorf("init postgres sink: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Sink = store
	case config.SinkGCS:
		client, err := a.gcsClient(ctx)
		if err != nil {
			return err
		}
		store, err := gcs.NewRecordStore(client, a.gcsConfig())
		if err != nil {
			return fmt.Errorf("init gcs sink: %w", err)
		}
		a.Sink = store
	case config.SinkPubSub:
		client := a.opts.pubsubClient
		if client == nil {
			var err error
			client, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
			if err != nil {
				return fmt.Errorf("connect pubsub: %w", err)
			}
			a.onClose("pubsub client", client.Close)
		}
		sink := pubsubsink.New(client.Topic(cfg.PubSub.TopicName))
		a.onClose("pubsub topic", func() error {
			sink.Close()
			return nil
		})
		a.Sink = sink
	default:
		return fmt.Errorf("unknown sink kind: %s", cfg.Sink.Kind)
	}
	return nil
}

func (a *App) buildOrchestrator() error {
	cfg := a.Config
	requester := a.requester()
	client, err := jira.NewClient(jira.Config{
		BaseURL:         cfg.Jira.BaseURL,
		Token:           cfg.Jira.Token,
		JQL:             cfg.Jira.JQL,
		PageSize:        cfg.Jira.PageSize,
		ExpandChangelog: cfg.Jira.ExpandChangelog,
	}, requester)
	if err != nil {
		return fmt.Errorf("init jira client: %w", err)
	}

	deps := orchestrator.Deps{
		Pages:       jira.NewPaginator(client),
		Details:     jira.NewDetailFetcher(client),
		Checkpoints: a.Checkpoints,
		Sink:        a.Sink,
		IDs:         uuid.New(),
		Clock:       system.New(),
	}
	if cfg.Crawler.ValidateRecords {
		validator, err := schema.New()
		if err != nil {
			return fmt.Errorf("init record schema: %w", err)
		}
		deps.Validator = validator
	}

	orch, err := orchestrator.New(deps, orchestrator.Config{
		Concurrency:        cfg.Crawler.Concurrency,
		Prefetch:           cfg.Crawler.Prefetch,
		FailOnPersistError: cfg.Checkpoint.FailOnError,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	a.Orchestrator = orch
	return nil
}

// requester builds the configured transport behind the per-host rate limiter.
func (a *App) requester() crawler.Requester {
	limits := ratelimit.Config{RPS: a.Config.HTTP.RequestsPerSecond, Burst: a.Config.HTTP.Burst}
	return ratelimit.New(limits, a.transport())
}

func (a *App) transport() crawler.Requester {
	cfg := a.Config
	initial, maxBackoff := cfg.BackoffBounds()
	retry := crawler.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, initial, maxBackoff)
	logger := a.Logger.Named("fetcher")
	if cfg.HTTP.Client == config.ClientResty {
		return restyfetcher.New(restyfetcher.Config{
			UserAgent:      cfg.HTTP.UserAgent,
			Timeout:        cfg.RequestTimeout(),
			MaxRetries:     cfg.HTTP.MaxRetries,
			BackoffInitial: initial,
			BackoffMax:     maxBackoff,
			Retry:          retry,
		}, logger)
	}
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.HTTP.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Retry:     retry,
	}, logger)
}

// postgresPool opens one pool shared by the checkpoint store and the sink.
func (a *App) postgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      a.Config.DB.DSN,
		MaxConns: int32(a.Config.DB.MaxConns), // #nosec G115
	})
	if err != nil {
		return nil, err
	}
	a.pool = pool
	a.onClose("postgres pool", func() error {
		pool.Close()
		return nil
	})
	return pool, nil
}

func (a *App) gcsClient(ctx context.Context) (*storage.Client, error) {
	if a.opts.gcsClient != nil {
		return a.opts.gcsClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect gcs: %w", err)
	}
	a.opts.gcsClient = client
	a.onClose("gcs client", client.Close)
	return client, nil
}

func (a *App) gcsConfig() gcs.Config {
	return gcs.Config{
		Bucket:         a.Config.Storage.GCSBucket,
		Prefix:         a.Config.Storage.Prefix,
		CheckpointName: a.Config.Checkpoint.Name,
	}
}

// ErrNotCrawlable is returned by RunOnce for an App without an orchestrator.
var ErrNotCrawlable = errors.New("app was opened without crawl services")

// RunOnce executes a single crawl. It returns orchestrator.ErrRunInProgress
// when a run started through the ops API is still active.
func (a *App) RunOnce(ctx context.Context) (orchestrator.Result, error) {
	if a.Orchestrator == nil {
		return orchestrator.Result{}, ErrNotCrawlable
	}
	return a.Orchestrator.TryRun(ctx)
}
