package crawler

import (
	"net/http"
	"time"
)

// Checkpoint is the durable record of crawl progress.
type Checkpoint struct {
	Search SearchCheckpoint `json:"search"`
}

// SearchCheckpoint tracks the search cursor.
type SearchCheckpoint struct {
	// LastStartAt is the offset past the last page whose issues were fully processed.
	LastStartAt int `json:"last_startAt"`
}

// IsZero reports whether the checkpoint carries no progress.
func (c Checkpoint) IsZero() bool {
	return c.Search.LastStartAt == 0
}

// Document is a raw JSON object returned by the tracker API.
type Document map[string]any

// Record is the normalized output schema emitted for every processed issue.
type Record struct {
	IssueID       *string          `json:"issue_id"`
	Title         *string          `json:"title"`
	Status        *string          `json:"status"`
	Priority      *string          `json:"priority"`
	Project       *string          `json:"project"`
	Reporter      Person           `json:"reporter"`
	Assignee      *Person          `json:"assignee"`
	Labels        []string         `json:"labels"`
	CreatedAt     *string          `json:"created_at"`
	UpdatedAt     *string          `json:"updated_at"`
	Description   *string          `json:"description"`
	Comments      []Comment        `json:"comments"`
	Changelog     []ChangelogEntry `json:"changelog"`
	Derived       map[string]any   `json:"derived"`
	RawSourceDate *string          `json:"raw_source_date"`
}

// Key returns the issue identifier, or an empty string when absent.
func (r Record) Key() string {
	if r.IssueID == nil {
		return ""
	}
	return *r.IssueID
}

// Person identifies a tracker user.
type Person struct {
	ID   *string `json:"id"`
	Name *string `json:"name"`
}

// Comment is one issue comment.
type Comment struct {
	ID      *string `json:"id"`
	Author  *string `json:"author"`
	Created *string `json:"created"`
	Text    *string `json:"text"`
}

// ChangelogEntry is one field-level change flattened out of a history entry.
type ChangelogEntry struct {
	Field  *string `json:"field"`
	From   *string `json:"from"`
	To     *string `json:"to"`
	Author *string `json:"author"`
	When   *string `json:"when"`
}

// Request describes a single GET issued through a Requester.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is the result returned by a Requester. Non-success statuses are
// reported here rather than as errors.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// OK reports whether the response carries a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}
