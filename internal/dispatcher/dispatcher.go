// Package dispatcher bounds the number of concurrently running tasks.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/jira-issue-crawler/internal/metrics"
)

// DefaultLimit is the in-flight bound used when New is given a non-positive limit.
const DefaultLimit = 4

// Task is one unit of work. i is the task's index within its batch.
type Task func(ctx context.Context, i int)

// Dispatcher fans a batch of tasks out over at most Limit goroutines.
type Dispatcher struct {
	limit int
	sem   *semaphore.Weighted
}

// New creates a Dispatcher. The bound is shared by every batch it runs.
func New(limit int) *Dispatcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Dispatcher{
		limit: limit,
		sem:   semaphore.NewWeighted(int64(limit)),
	}
}

// Limit reports the in-flight bound.
func (d *Dispatcher) Limit() int {
	return d.limit
}

// Run executes task n times and blocks until every started task returns.
// If ctx ends before all tasks start, the remaining ones are never started
// and the context error is returned.
func (d *Dispatcher) Run(ctx context.Context, n int, task Task) error {
	var wg sync.WaitGroup
	var acquireErr error
	for i := 0; i < n; i++ {
		if err := d.sem.Acquire(ctx, 1); err != nil {
			acquireErr = fmt.Errorf("dispatch task %d: %w", i, err)
			break
		}
		wg.Add(1)
		metrics.IncDetailInflight()
		go func(idx int) {
			defer func() {
				metrics.DecDetailInflight()
				d.sem.Release(1)
				wg.Done()
			}()
			task(ctx, idx)
		}(i)
	}
	wg.Wait()
	return acquireErr
}
