// Package ratelimit throttles tracker requests with per-host token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	"github.com/JakeFAU/jira-issue-crawler/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables
// limiting.
type Config struct {
	RPS   float64
	Burst int
}

// Requester wraps another crawler.Requester and waits for a token for the
// request's host before every call.
type Requester struct {
	next  crawler.Requester
	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Requester around next.
func New(cfg Config, next crawler.Requester) *Requester {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Requester{
		next:     next,
		rate:     r,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Get waits for the host's limiter, then delegates.
func (r *Requester) Get(ctx context.Context, request crawler.Request) (crawler.Response, error) {
	if err := r.Wait(ctx, request.URL); err != nil {
		return crawler.Response{}, err
	}
	resp, err := r.next.Get(ctx, request)
	if err != nil {
		return resp, fmt.Errorf("rate limited get: %w", err)
	}
	return resp, nil
}

// Wait blocks until a token is available for rawURL's host.
func (r *Requester) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	limiter := r.limiter(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

func (r *Requester) limiter(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[host]
	if !ok {
		l = rate.NewLimiter(r.rate, r.burst)
		r.limiters[host] = l
	}
	return l
}
