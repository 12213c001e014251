// Package schema validates normalized records against the embedded output schema.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

//go:embed record.schema.json
var recordSchema []byte

// RecordSchema returns the embedded JSON schema document.
func RecordSchema() []byte {
	return append([]byte(nil), recordSchema...)
}

// ValidationError lists every schema violation found in a record.
type ValidationError struct {
	IssueID string
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record %s violates schema: %s", e.IssueID, strings.Join(e.Issues, "; "))
}

// Validator checks records against a compiled schema. It is safe for concurrent use.
type Validator struct {
	schema *gojsonschema.Schema
}

// New compiles the embedded record schema.
func New() (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(recordSchema))
	if err != nil {
		return nil, fmt.Errorf("compile record schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate returns a *ValidationError when record does not conform.
func (v *Validator) Validate(record crawler.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.Key(), err)
	}
	return v.ValidateJSON(record.Key(), data)
}

// ValidateJSON validates an already encoded record.
func (v *Validator) ValidateJSON(issueID string, data []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validate record %s: %w", issueID, err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{IssueID: issueID}
	for _, re := range result.Errors() {
		verr.Issues = append(verr.Issues, re.String())
	}
	return verr
}
