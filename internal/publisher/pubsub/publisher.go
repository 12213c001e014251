// Package pubsub fans normalized records out to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/jira-issue-crawler/internal/crawler"
)

// Attribute keys set on every published message.
const (
	AttrIssueID = "issue_id"
	AttrRunID   = "run_id"
)

// Sink publishes each record as a JSON message and waits for the server ack.
type Sink struct {
	topic *pubsub.Topic
}

// New creates a Sink for topic.
func New(topic *pubsub.Topic) *Sink {
	return &Sink{topic: topic}
}

// Emit publishes record.
func (s *Sink) Emit(ctx context.Context, record crawler.Record) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.Key(), err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrIssueID: record.Key(),
		},
	}
	if runID := crawler.RunIDFromContext(ctx); runID != "" {
		msg.Attributes[AttrRunID] = runID
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish record %s: %w", record.Key(), err)
	}
	return nil
}

// Close flushes pending messages and stops the topic's background goroutines.
func (s *Sink) Close() {
	if s.topic != nil {
		s.topic.Stop()
	}
}
