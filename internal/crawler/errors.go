package crawler

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step a FetchError originated from.
type Stage string

// Fetch stages.
const (
	StageSearch Stage = "search"
	StageDetail Stage = "detail"
)

// ErrRunAborted marks a crawl run that stopped before exhausting the search.
var ErrRunAborted = errors.New("crawl run aborted")

// FetchError reports a failed or non-success tracker request.
type FetchError struct {
	Stage      Stage
	StartAt    int
	IssueKey   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	var target string
	switch e.Stage {
	case StageSearch:
		target = fmt.Sprintf("startAt=%d", e.StartAt)
	default:
		target = fmt.Sprintf("issue=%s", e.IssueKey)
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s fetch failed (%s): %v", e.Stage, target, e.Err)
	default:
		return fmt.Sprintf("%s fetch failed (%s): status %d", e.Stage, target, e.StatusCode)
	}
}

// Unwrap exposes the underlying transport error, if any.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a checkpoint write that could not complete.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist checkpoint (%s): %v", e.Op, e.Err)
}

// Unwrap returns the cause.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsSearchFailure reports whether err is a search-stage FetchError.
func IsSearchFailure(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Stage == StageSearch
}
