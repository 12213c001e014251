// Package jira drives the tracker's REST v2 search and issue endpoints through
// a crawler.Requester.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// DefaultPageSize is the fixed number of issues requested per search page.
const DefaultPageSize = 50

const (
	searchPath = "/rest/api/2/search"
	issuePath  = "/rest/api/2/issue/"
)

// Config identifies the tracker and the issues to crawl.
type Config struct {
	BaseURL         string
	Token           string
	JQL             string
	PageSize        int
	ExpandChangelog bool
}

// Client builds tracker requests and decodes their JSON bodies.
type Client struct {
	base      string
	token     string
	jql       string
	pageSize  int
	expand    string
	requester crawler.Requester
}

// NewClient validates cfg and returns a Client bound to requester.
func NewClient(cfg Config, requester crawler.Requester) (*Client, error) {
	if requester == nil {
		return nil, errors.New("requester is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("jira base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse jira base url: %w", err)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	c := &Client{
		base:      base,
		token:     cfg.Token,
		jql:       cfg.JQL,
		pageSize:  pageSize,
		requester: requester,
	}
	if cfg.ExpandChangelog {
		c.expand = "changelog"
	}
	return c, nil
}

// SearchRequest describes one search page.
type SearchRequest struct {
	JQL        string
	StartAt    int
	MaxResults int
	Expand     string
}

// At derives the request for a different offset.
func (r SearchRequest) At(startAt int) SearchRequest {
	r.StartAt = startAt
	return r
}

// SearchRequest returns the request for the page starting at startAt.
func (c *Client) SearchRequest(startAt int) SearchRequest {
	return SearchRequest{
		JQL:        c.jql,
		StartAt:    startAt,
		MaxResults: c.pageSize,
		Expand:     c.expand,
	}
}

// SearchURL renders the search endpoint URL for r.
func (c *Client) SearchURL(r SearchRequest) string {
	q := url.Values{}
	q.Set("jql", r.JQL)
	q.Set("startAt", fmt.Sprint(r.StartAt))
	q.Set("maxResults", fmt.Sprint(r.MaxResults))
	if r.Expand != "" {
		q.Set("expand", r.Expand)
	}
	return c.base + searchPath + "?" + q.Encode()
}

// IssueURL renders the detail endpoint URL for key.
func (c *Client) IssueURL(key string) string {
	return c.base + issuePath + url.PathEscape(key)
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) get(ctx context.Context, rawURL string) (crawler.Response, error) {
	resp, err := c.requester.Get(ctx, crawler.Request{URL: rawURL, Headers: c.headers()})
	if err != nil {
		return crawler.Response{}, fmt.Errorf("get %s: %w", rawURL, err)
	}
	return resp, nil
}

func decodeJSON(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
