package jira

import (
	"context"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
	"github.com/JakeFAU/jira-issue-crawler/internal/metrics"
)

// DetailFetcher requests full issue documents.
type DetailFetcher struct {
	client *Client
}

// NewDetailFetcher returns a DetailFetcher backed by client.
func NewDetailFetcher(client *Client) *DetailFetcher {
	return &DetailFetcher{client: client}
}

// FetchDetail returns the detail document for issueKey. Failures are
// detail-stage *crawler.FetchError values.
func (f *DetailFetcher) FetchDetail(ctx context.Context, issueKey string) (crawler.Document, error) {
	resp, err := f.client.get(ctx, f.client.IssueURL(issueKey))
	if err != nil {
		return nil, &crawler.FetchError{Stage: crawler.StageDetail, IssueKey: issueKey, Err: err}
	}
	metrics.ObserveRequest(string(crawler.StageDetail), resp.Duration)
	if !resp.OK() {
		return nil, &crawler.FetchError{Stage: crawler.StageDetail, IssueKey: issueKey, StatusCode: resp.StatusCode}
	}
	var doc crawler.Document
	if err := decodeJSON(resp.Body, &doc); err != nil {
		return nil, &crawler.FetchError{
			Stage:      crawler.StageDetail,
			IssueKey:   issueKey,
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}
	if doc == nil {
		doc = crawler.Document{}
	}
	return doc, nil
}
