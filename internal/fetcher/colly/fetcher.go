// Package collyfetcher implements crawler.Requester using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

const defaultTimeout = 20 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Retry governs re-attempts on network errors, 429, and 5xx. Nil disables retries.
	Retry crawler.RetryPolicy
	// Transport overrides the pooled HTTP transport.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Requester using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = 0
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		logger:        logger,
		baseCollector: c,
	}
}

// Get executes request, re-attempting retryable failures. A response with a
// non-success status is returned without error once retries are exhausted.
func (f *Fetcher) Get(ctx context.Context, request crawler.Request) (crawler.Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.fetchOnce(ctx, request)
		resp.Attempts = attempt
		cause := err
		if cause == nil {
			cause = crawler.StatusError(resp.StatusCode)
			if cause == nil {
				return resp, nil
			}
		}
		if f.cfg.Retry == nil || !f.cfg.Retry.ShouldRetry(cause, attempt) {
			if err != nil {
				return crawler.Response{}, err
			}
			return resp, nil
		}
		wait := f.cfg.Retry.Backoff(attempt)
		f.logger.Debug("retrying request",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(cause),
		)
		if err := crawler.Sleep(ctx, wait); err != nil {
			return crawler.Response{}, err
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawler.Request) (crawler.Response, error) {
	if err := ctx.Err(); err != nil {
		return crawler.Response{}, fmt.Errorf("colly fetch canceled: %w", err)
	}
	var (
		result   crawler.Response
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = 0
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request, &fetchErr); err != nil {
		return crawler.Response{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeaders(r.Headers),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request crawler.Request,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Request(http.MethodGet, request.URL, nil, nil, cloneHeaders(&request.Headers))
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func cloneHeaders(h *http.Header) http.Header {
	if h == nil || *h == nil {
		return http.Header{}
	}
	return h.Clone()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
