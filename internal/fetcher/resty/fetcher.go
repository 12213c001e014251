// Package restyfetcher implements crawler.Requester on a resty client.
package restyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// Config controls the resty client.
type Config struct {
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// Retry decides which failures are re-attempted and how long to wait.
	Retry crawler.RetryPolicy
}

// Fetcher issues GETs through a shared resty client.
type Fetcher struct {
	client *resty.Client
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetLogger(logger.Sugar())
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Retry != nil && cfg.MaxRetries > 0 {
		policy := cfg.Retry
		client.
			SetRetryCount(cfg.MaxRetries).
			SetRetryWaitTime(cfg.BackoffInitial).
			SetRetryMaxWaitTime(cfg.BackoffMax).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return policy.ShouldRetry(retryCause(r, err), attempt(r))
			}).
			SetRetryAfter(func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
				return policy.Backoff(attempt(r)), nil
			})
	}
	return &Fetcher{client: client}
}

// Get executes request. Non-success statuses are returned without error once
// retries are exhausted.
func (f *Fetcher) Get(ctx context.Context, request crawler.Request) (crawler.Response, error) {
	req := f.client.R().SetContext(ctx)
	for key, values := range request.Headers {
		req.SetHeaderMultiValues(map[string][]string{key: values})
	}
	resp, err := req.Get(request.URL)
	if err != nil {
		return crawler.Response{}, fmt.Errorf("resty get: %w", err)
	}
	headers := http.Header{}
	if resp.Header() != nil {
		headers = resp.Header().Clone()
	}
	return crawler.Response{
		URL:        request.URL,
		StatusCode: resp.StatusCode(),
		Headers:    headers,
		Body:       resp.Body(),
		Duration:   resp.Time(),
		Attempts:   attempt(resp),
	}, nil
}

func retryCause(r *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if r == nil {
		return nil
	}
	return crawler.StatusError(r.StatusCode())
}

func attempt(r *resty.Response) int {
	if r == nil || r.Request == nil || r.Request.Attempt < 1 {
		return 1
	}
	return r.Request.Attempt
}
