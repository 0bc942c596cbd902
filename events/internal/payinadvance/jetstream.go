package payinadvance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/billhawk/billhawk/common/messaging"
)

// StreamPublisher is the part of the JetStream client the sink needs.
type StreamPublisher interface {
	PublishSync(ctx context.Context, subject string, data []byte, msgID string) (*jetstream.PubAck, error)
}

// JetStreamSink publishes fee tasks to a JetStream work-queue stream. The
// message id is the task's dedup key, so redelivered events inside the
// stream's duplicate window produce one task.
type JetStreamSink struct {
	js      StreamPublisher
	subject string
}

// NewJetStreamSink creates a sink publishing to subject. An empty subject
// uses messaging.SubjectPayInAdvanceFees.
func NewJetStreamSink(js StreamPublisher, subject string) *JetStreamSink {
	if subject == "" {
		subject = messaging.SubjectPayInAdvanceFees
	}
	return &JetStreamSink{js: js, subject: subject}
}

func (s *JetStreamSink) Send(ctx context.Context, task FeeTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal fee task: %w", err)
	}
	if _, err := s.js.PublishSync(ctx, s.subject, data, task.DedupKey()); err != nil {
		return fmt.Errorf("publish fee task: %w", err)
	}
	return nil
}
