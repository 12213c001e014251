package ratelimit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

type countingRequester struct {
	calls atomic.Int32
	err   error
}

func (c *countingRequester) Get(_ context.Context, request crawler.Request) (crawler.Response, error) {
	c.calls.Add(1)
	if c.err != nil {
		return crawler.Response{}, c.err
	}
	return crawler.Response{URL: request.URL, StatusCode: 200}, nil
}

func TestRequesterWaitsBetweenCalls(t *testing.T) {
	t.Parallel()

	next := &countingRequester{}
	r := New(Config{RPS: 10, Burst: 1}, next)
	ctx := context.Background()

	_, err := r.Get(ctx, crawler.Request{URL: "https://jira.example.com/rest/api/2/search"})
	require.NoError(t, err)

	start := time.Now()
	resp, err := r.Get(ctx, crawler.Request{URL: "https://jira.example.com/rest/api/2/issue/A-1"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestRequesterLimitsPerHost(t *testing.T) {
	t.Parallel()

	r := New(Config{RPS: 1, Burst: 1}, &countingRequester{})
	ctx := context.Background()

	require.NoError(t, r.Wait(ctx, "https://a.example.com/x"))
	start := time.Now()
	require.NoError(t, r.Wait(ctx, "https://b.example.com/x"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRequesterUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	r := New(Config{}, &countingRequester{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, r.Wait(ctx, "https://jira.example.com"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRequesterHonorsContext(t *testing.T) {
	t.Parallel()

	next := &countingRequester{}
	r := New(Config{RPS: 0.01, Burst: 1}, next)
	require.NoError(t, r.Wait(context.Background(), "https://jira.example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Get(ctx, crawler.Request{URL: "https://jira.example.com"})
	require.Error(t, err)
	assert.Equal(t, int32(0), next.calls.Load())
}

func TestRequesterPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	r := New(Config{}, &countingRequester{err: boom})
	_, err := r.Get(context.Background(), crawler.Request{URL: "https://jira.example.com"})
	require.ErrorIs(t, err, boom)
}
