package dlq

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/billhawk/billhawk/common/logging"
	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/events/internal/model"
)

// KafkaQueue publishes dead letters to the dead-letter topic. The original
// payload is the message value and the failure details travel as headers.
type KafkaQueue struct {
	publisher messaging.Publisher
	logger    *slog.Logger
}

// NewKafkaQueue creates a queue publishing through p, which must be bound to
// the dead-letter topic.
func NewKafkaQueue(p messaging.Publisher, logger *slog.Logger) *KafkaQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaQueue{publisher: p, logger: logger}
}

// Write publishes dl with the source message time as the record time, so the
// topic can be replayed without shifting usage into a later period.
func (q *KafkaQueue) Write(ctx context.Context, dl model.DeadLetter) error {
	ts := dl.ReceivedAt
	if ts.IsZero() {
		ts = dl.FailedAt
	}
	msg := &messaging.Message{
		Key:       dl.Key,
		Value:     dl.Payload,
		Headers:   Headers(dl),
		Timestamp: ts,
	}
	if err := q.publisher.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish dead letter: %w", err)
	}

	q.logger.WarnContext(ctx, "event dead-lettered",
		logging.Reason(string(dl.Reason)),
		logging.Topic(dl.Topic),
		logging.Partition(dl.Partition),
		logging.Offset(dl.Offset),
		slog.String("detail", dl.Error),
	)
	return nil
}
