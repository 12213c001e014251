package jira

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	"github.com/JakeFAU/jira-issue-crawler/internal/metrics"
)

// ErrOutOfOrder is returned when a page is requested at or before an offset
// already fetched since the Paginator was last reset.
var ErrOutOfOrder = errors.New("search page requested out of order")

// Page is one search result page.
type Page struct {
	StartAt int
	Issues  []crawler.Document
	Total   int
	// NextStartAt is nil once the search is exhausted.
	NextStartAt *int
}

// End returns the offset just past this page's issues.
func (p Page) End() int {
	return p.StartAt + len(p.Issues)
}

// Paginator requests search pages in strictly increasing offset order.
type Paginator struct {
	client *Client
	base   SearchRequest

	mu      sync.Mutex
	started bool
	last    int
}

// NewPaginator returns a Paginator backed by client.
func NewPaginator(client *Client) *Paginator {
	return &Paginator{client: client, base: client.SearchRequest(0)}
}

// Reset forgets the offsets requested so far. Call it before each crawl run
// so a resumed run may request an offset an earlier run already reached.
func (p *Paginator) Reset() {
	p.mu.Lock()
	p.started = false
	p.last = 0
	p.mu.Unlock()
}

type searchResponse struct {
	StartAt int                `json:"startAt"`
	Total   int                `json:"total"`
	Issues  []crawler.Document `json:"issues"`
}

// FetchPage requests the page at startAt. Non-success statuses surface as a
// search-stage *crawler.FetchError and are not retried here.
func (p *Paginator) FetchPage(ctx context.Context, startAt int) (Page, error) {
	if startAt < 0 {
		return Page{}, fmt.Errorf("invalid startAt %d", startAt)
	}
	p.mu.Lock()
	if p.started && startAt <= p.last {
		p.mu.Unlock()
		return Page{}, fmt.Errorf("%w: startAt %d after %d", ErrOutOfOrder, startAt, p.last)
	}
	p.started = true
	p.last = startAt
	p.mu.Unlock()

	req := p.base.At(startAt)
	resp, err := p.client.get(ctx, p.client.SearchURL(req))
	if err != nil {
		metrics.ObserveSearchPage("error")
		return Page{}, &crawler.FetchError{Stage: crawler.StageSearch, StartAt: startAt, Err: err}
	}
	metrics.ObserveRequest(string(crawler.StageSearch), resp.Duration)
	if !resp.OK() {
		metrics.ObserveSearchPage("error")
		return Page{}, &crawler.FetchError{Stage: crawler.StageSearch, StartAt: startAt, StatusCode: resp.StatusCode}
	}

	var body searchResponse
	if err := decodeJSON(resp.Body, &body); err != nil {
		metrics.ObserveSearchPage("error")
		return Page{}, &crawler.FetchError{
			Stage:      crawler.StageSearch,
			StartAt:    startAt,
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	metrics.ObserveSearchPage("ok")

	page := Page{
		StartAt: startAt,
		Issues:  body.Issues,
		Total:   body.Total,
	}
	if page.Issues == nil {
		page.Issues = []crawler.Document{}
	}
	page.NextStartAt = nextStartAt(startAt, len(page.Issues), body.Total)
	return page, nil
}

// nextStartAt returns nil when the search is exhausted. An empty page always
// ends pagination so inconsistent totals cannot loop forever.
func nextStartAt(startAt, count, total int) *int {
	if count == 0 {
		return nil
	}
	next := startAt + count
	if next >= total {
		return nil
	}
	return &next
}
