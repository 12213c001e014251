// Package orchestrator drives a crawl run: it walks search pages in order,
// fans each page's issues out to detail fetches, emits normalized records,
// and advances the checkpoint once a page has fully drained.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	"github.com/JakeFAU/jira-issue-crawler/internal/dispatcher"
	"github.com/JakeFAU/jira-issue-crawler/internal/jira"
	"github.com/JakeFAU/jira-issue-crawler/internal/metrics"
	"github.com/JakeFAU/jira-issue-crawler/internal/telemetry"
)

// State is a step of the crawl state machine.
type State string

// Crawl states. Done and Aborted are terminal.
const (
	StateIdle         State = "idle"
	StateStart        State = "start"
	StatePageFetching State = "page_fetching"
	StateDetailFanout State = "detail_fanout"
	StatePageComplete State = "page_complete"
	StateDone         State = "done"
	StateAborted      State = "aborted"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// PageFetcher returns search pages. Offsets passed to it strictly increase
// within a run.
type PageFetcher interface {
	FetchPage(ctx context.Context, startAt int) (jira.Page, error)
}

// resetter is implemented by page fetchers that keep per-run ordering state.
type resetter interface {
	Reset()
}

// DetailFetcher returns full issue documents.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, issueKey string) (crawler.Document, error)
}

// RecordValidator rejects records that do not match the output schema.
type RecordValidator interface {
	Validate(record crawler.Record) error
}

// Config tunes a run.
type Config struct {
	// Concurrency bounds in-flight detail fetches.
	Concurrency int
	// Prefetch issues the next search while the current page drains.
	Prefetch bool
	// FailOnPersistError halts the run when a checkpoint save fails.
	FailOnPersistError bool
}

// Deps are the collaborators of an Orchestrator. Validator, IDs, and Clock
// are optional.
type Deps struct {
	Pages       PageFetcher
	Details     DetailFetcher
	Checkpoints crawler.CheckpointStore
	Sink        crawler.Sink
	Validator   RecordValidator
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
}

// Result summarizes a run.
type Result struct {
	RunID      string             `json:"run_id"`
	State      State              `json:"state"`
	Pages      int                `json:"pages"`
	Emitted    int                `json:"emitted"`
	Skipped    int                `json:"skipped"`
	Checkpoint crawler.Checkpoint `json:"checkpoint"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at,omitzero"`
	Err        error              `json:"-"`
}

// Error returns the failure message, or an empty string for a clean run.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Orchestrator runs crawls. Only one run may be active at a time.
type Orchestrator struct {
	deps       Deps
	cfg        Config
	dispatcher *dispatcher.Dispatcher
	logger     *zap.Logger

	runMu sync.Mutex

	statusMu sync.RWMutex
	status   Result
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Pages == nil:
		return nil, errors.New("page fetcher is required")
	case deps.Details == nil:
		return nil, errors.New("detail fetcher is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Sink == nil:
		return nil, errors.New("sink is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	return &Orchestrator{
		deps:       deps,
		cfg:        cfg,
		dispatcher: dispatcher.New(cfg.Concurrency),
		logger:     logger.Named("orchestrator"),
		status:     Result{State: StateIdle},
	}, nil
}

// Status returns a snapshot of the current or most recent run.
func (o *Orchestrator) Status() Result {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status
}

// ErrRunInProgress is returned by TryRun and Start while another run is active.
var ErrRunInProgress = errors.New("crawl run already in progress")

// TryRun starts a run unless one is already active.
func (o *Orchestrator) TryRun(ctx context.Context) (Result, error) {
	if !o.runMu.TryLock() {
		return o.Status(), ErrRunInProgress
	}
	defer o.runMu.Unlock()
	return o.run(ctx), nil
}

// Start launches a run in the background unless one is already active. The
// returned channel yields the final Result and is then closed.
func (o *Orchestrator) Start(ctx context.Context) (<-chan Result, error) {
	if !o.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	done := make(chan Result, 1)
	go func() {
		defer close(done)
		defer o.runMu.Unlock()
		done <- o.run(ctx)
	}()
	return done, nil
}

// Run executes one crawl to completion or abort. A resumed run starts at the
// stored checkpoint offset. Result.Err wraps crawler.ErrRunAborted when the
// run stopped early.
func (o *Orchestrator) Run(ctx context.Context) Result {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.run(ctx)
}

func (o *Orchestrator) run(ctx context.Context) Result {
	if p, ok := o.deps.Pages.(resetter); ok {
		p.Reset()
	}
	r := &runner{
		o:      o,
		result: Result{State: StateStart, StartedAt: o.deps.Clock.Now()},
	}
	if o.deps.IDs != nil {
		id, err := o.deps.IDs.NewID()
		if err != nil {
			o.logger.Warn("run id generation failed", zap.Error(err))
		}
		r.result.RunID = id
	}
	r.logger = o.logger.With(zap.String("run_id", r.result.RunID))
	o.publish(r.result)

	ctx, span := telemetry.Tracer().Start(crawler.WithRunID(ctx, r.result.RunID), "crawl.run",
		trace.WithAttributes(attribute.String("run_id", r.result.RunID)))
	r.execute(ctx)

	r.result.FinishedAt = o.deps.Clock.Now()
	o.publish(r.result)
	metrics.ObserveRun(string(r.result.State))

	span.SetAttributes(
		attribute.String("state", string(r.result.State)),
		attribute.Int("pages", r.result.Pages),
		attribute.Int("emitted", r.result.Emitted),
		attribute.Int("skipped", r.result.Skipped),
		attribute.Int("last_startAt", r.result.Checkpoint.Search.LastStartAt),
	)
	if r.result.Err != nil {
		span.RecordError(r.result.Err)
		span.SetStatus(codes.Error, "crawl aborted")
	}
	span.End()
	return r.result
}

func (o *Orchestrator) publish(r Result) {
	o.statusMu.Lock()
	o.status = r
	o.statusMu.Unlock()
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// fetchResult carries a search page from the prefetch goroutine.
type fetchResult struct {
	page jira.Page
	err  error
}

type runner struct {
	o      *Orchestrator
	logger *zap.Logger
	result Result
}

func (r *runner) transition(s State) {
	r.result.State = s
	r.o.publish(r.result)
}

func (r *runner) abort(err error) {
	r.result.State = StateAborted
	r.result.Err = fmt.Errorf("%w: %w", crawler.ErrRunAborted, err)
	r.logger.Error("crawl aborted",
		zap.Int("last_startAt", r.result.Checkpoint.Search.LastStartAt),
		zap.Error(err),
	)
}

func (r *runner) execute(ctx context.Context) {
	cp, err := r.o.deps.Checkpoints.Load(ctx)
	if err != nil {
		r.abort(fmt.Errorf("load checkpoint: %w", err))
		return
	}
	r.result.Checkpoint = cp
	if cp.IsZero() {
		r.logger.Info("crawl starting from the first page", zap.Int("concurrency", r.o.dispatcher.Limit()))
	} else {
		r.logger.Info("crawl resuming from checkpoint",
			zap.Int("start_at", cp.Search.LastStartAt),
			zap.Int("concurrency", r.o.dispatcher.Limit()),
		)
	}

	r.transition(StatePageFetching)
	page, err := r.o.deps.Pages.FetchPage(ctx, cp.Search.LastStartAt)
	if err != nil {
		r.abort(err)
		return
	}

	for {
		r.logger.Info(fmt.Sprintf("fetched %d issues at offset %d", len(page.Issues), page.StartAt),
			zap.Int("start_at", page.StartAt),
			zap.Int("total", page.Total),
		)
		r.transition(StateDetailFanout)

		var (
			pending        <-chan fetchResult
			cancelPrefetch context.CancelFunc = func() {}
		)
		if page.NextStartAt != nil && r.o.cfg.Prefetch {
			var prefetchCtx context.Context
			prefetchCtx, cancelPrefetch = context.WithCancel(ctx)
			pending = r.prefetch(prefetchCtx, *page.NextStartAt)
		}

		if err := r.drain(ctx, page); err != nil {
			cancelPrefetch()
			if pending != nil {
				<-pending
			}
			r.abort(err)
			return
		}

		r.transition(StatePageComplete)
		r.result.Pages++
		if err := r.advance(ctx, page); err != nil {
			cancelPrefetch()
			if pending != nil {
				<-pending
			}
			r.abort(err)
			return
		}

		if page.NextStartAt == nil {
			cancelPrefetch()
			r.result.State = StateDone
			r.logger.Info("crawl complete",
				zap.Int("pages", r.result.Pages),
				zap.Int("emitted", r.result.Emitted),
				zap.Int("skipped", r.result.Skipped),
				zap.Int("last_startAt", r.result.Checkpoint.Search.LastStartAt),
			)
			return
		}

		r.transition(StatePageFetching)
		var next fetchResult
		if pending != nil {
			next = <-pending
		} else {
			next.page, next.err = r.o.deps.Pages.FetchPage(ctx, *page.NextStartAt)
		}
		cancelPrefetch()
		if next.err != nil {
			r.abort(next.err)
			return
		}
		page = next.page
	}
}

func (r *runner) prefetch(ctx context.Context, startAt int) <-chan fetchResult {
	out := make(chan fetchResult, 1)
	go func() {
		defer close(out)
		page, err := r.o.deps.Pages.FetchPage(ctx, startAt)
		out <- fetchResult{page: page, err: err}
	}()
	return out
}

// advance persists the checkpoint past page. The in-memory checkpoint moves
// forward even when the save fails.
func (r *runner) advance(ctx context.Context, page jira.Page) error {
	offset := page.End()
	if offset < r.result.Checkpoint.Search.LastStartAt {
		offset = r.result.Checkpoint.Search.LastStartAt
	}
	r.result.Checkpoint.Search.LastStartAt = offset

	err := r.o.deps.Checkpoints.Save(ctx, r.result.Checkpoint)
	metrics.ObserveCheckpointSave(offset, err)
	if err == nil {
		r.logger.Debug("checkpoint saved", zap.Int("last_startAt", offset))
		return nil
	}
	var pe *crawler.PersistenceError
	if !errors.As(err, &pe) {
		err = &crawler.PersistenceError{Op: "save", Err: err}
	}
	if r.o.cfg.FailOnPersistError {
		return err
	}
	r.logger.Warn("checkpoint save failed, continuing", zap.Int("last_startAt", offset), zap.Error(err))
	return nil
}
