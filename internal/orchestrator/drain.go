package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	"github.com/JakeFAU/jira-issue-crawler/internal/jira"
	"github.com/JakeFAU/jira-issue-crawler/internal/metrics"
	"github.com/JakeFAU/jira-issue-crawler/internal/telemetry"
	"github.com/JakeFAU/jira-issue-crawler/internal/transform"
)

// pageTally accumulates per-issue outcomes across detail workers.
type pageTally struct {
	mu      sync.Mutex
	emitted int
	skipped int
	sinkErr error
}

func (t *pageTally) emit() {
	t.mu.Lock()
	t.emitted++
	t.mu.Unlock()
	metrics.ObserveIssue(metrics.OutcomeEmitted)
}

func (t *pageTally) skip() {
	t.mu.Lock()
	t.skipped++
	t.mu.Unlock()
	metrics.ObserveIssue(metrics.OutcomeSkipped)
}

// fail records the first sink error. It reports whether err was the first.
func (t *pageTally) fail(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	metrics.ObserveIssue(metrics.OutcomeFailed)
	if t.sinkErr != nil {
		return false
	}
	t.sinkErr = err
	return true
}

// drain resolves every issue of page. Detail failures are skipped; a sink
// failure or cancellation fails the whole page so its checkpoint is not advanced.
func (r *runner) drain(ctx context.Context, page jira.Page) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.Int("start_at", page.StartAt),
		attribute.Int("issues", len(page.Issues)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page failed")
		}
		span.End()
	}()

	pageCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tally := &pageTally{}
	runErr := r.o.dispatcher.Run(pageCtx, len(page.Issues), func(taskCtx context.Context, i int) {
		r.process(taskCtx, page.Issues[i], tally, cancel)
	})

	r.result.Emitted += tally.emitted
	r.result.Skipped += tally.skipped

	if tally.sinkErr != nil {
		return tally.sinkErr
	}
	if cerr := ctx.Err(); cerr != nil {
		return fmt.Errorf("page at offset %d interrupted: %w", page.StartAt, cerr)
	}
	if runErr != nil {
		return runErr
	}
	return nil
}

func (r *runner) process(ctx context.Context, summary crawler.Document, tally *pageTally, cancelPage context.CancelFunc) {
	key := issueKey(summary)
	if key == "" {
		r.logger.Warn("search result without issue key, skipping")
		tally.skip()
		return
	}
	logger := r.logger.With(zap.String("issue_key", key))

	detail, err := r.o.deps.Details.FetchDetail(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Warn("detail fetch failed, skipping issue", zap.Error(err))
		tally.skip()
		return
	}

	record := transform.Transform(transform.Merge(summary, detail))
	if r.o.deps.Validator != nil {
		if err := r.o.deps.Validator.Validate(record); err != nil {
			logger.Warn("record failed validation, skipping issue", zap.Error(err))
			tally.skip()
			return
		}
	}

	if err := r.o.deps.Sink.Emit(ctx, record); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		if tally.fail(fmt.Errorf("emit %s: %w", key, err)) {
			logger.Error("sink emit failed, abandoning page", zap.Error(err))
			cancelPage()
		}
		return
	}
	tally.emit()
}

func issueKey(summary crawler.Document) string {
	switch v := summary["key"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
