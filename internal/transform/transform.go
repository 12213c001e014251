// Package transform maps merged tracker documents onto the normalized record
// schema. Every function here is pure.
package transform

import (
	"encoding/json"
	"strconv"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// Merge returns the shallow union of summary and detail. Detail keys win on
// collision. Neither input is modified.
func Merge(summary, detail crawler.Document) crawler.Document {
	out := make(crawler.Document, len(summary)+len(detail))
	for k, v := range summary {
		out[k] = v
	}
	for k, v := range detail {
		out[k] = v
	}
	return out
}

// Transform converts a merged document into a Record. Missing links in any
// lookup path resolve to nil or an empty collection.
func Transform(merged crawler.Document) crawler.Record {
	fields := lookup(merged, "fields")

	rec := crawler.Record{
		IssueID:  str(lookup(merged, "key")),
		Title:    str(lookup(fields, "summary")),
		Status:   str(lookup(fields, "status", "name")),
		Priority: str(lookup(fields, "priority", "name")),
		Project:  str(lookup(fields, "project", "key")),
		Reporter: crawler.Person{
			ID:   str(lookup(fields, "reporter", "accountId")),
			Name: str(lookup(fields, "reporter", "displayName")),
		},
		Assignee:    assignee(lookup(fields, "assignee")),
		Labels:      labels(lookup(fields, "labels")),
		CreatedAt:   str(lookup(fields, "created")),
		UpdatedAt:   str(lookup(fields, "updated")),
		Description: str(lookup(fields, "description")),
		Comments:    comments(lookup(fields, "comment", "comments")),
		Changelog:   changelog(lookup(merged, "changelog", "histories")),
		Derived:     map[string]any{},
	}
	rec.RawSourceDate = rec.UpdatedAt
	return rec
}

// assignee is nil when the source is absent, null, or an empty object.
func assignee(v any) *crawler.Person {
	m, ok := asMap(v)
	if !ok || len(m) == 0 {
		return nil
	}
	return &crawler.Person{
		ID:   str(m["accountId"]),
		Name: str(m["displayName"]),
	}
}

func labels(v any) []string {
	items := list(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := str(item); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func comments(v any) []crawler.Comment {
	items := list(v)
	out := make([]crawler.Comment, 0, len(items))
	for _, c := range items {
		out = append(out, crawler.Comment{
			ID:      str(lookup(c, "id")),
			Author:  str(lookup(c, "author", "displayName")),
			Created: str(lookup(c, "created")),
			Text:    str(lookup(c, "body")),
		})
	}
	return out
}

func changelog(v any) []crawler.ChangelogEntry {
	out := make([]crawler.ChangelogEntry, 0)
	for _, h := range list(v) {
		author := str(lookup(h, "author", "displayName"))
		when := str(lookup(h, "created"))
		for _, item := range list(lookup(h, "items")) {
			out = append(out, crawler.ChangelogEntry{
				Field:  str(lookup(item, "field")),
				From:   str(lookup(item, "fromString")),
				To:     str(lookup(item, "toString")),
				Author: author,
				When:   when,
			})
		}
	}
	return out
}

func lookup(v any, path ...string) any {
	cur := v
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case crawler.Document:
		return t, t != nil
	case map[string]any:
		return t, t != nil
	default:
		return nil, false
	}
}

func list(v any) []any {
	items, _ := v.([]any)
	return items
}

// str renders scalar values as strings. Objects, arrays, and null yield nil.
func str(v any) *string {
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		s = strconv.Itoa(t)
	case bool:
		s = strconv.FormatBool(t)
	default:
		return nil
	}
	return &s
}
