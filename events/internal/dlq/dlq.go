// Package dlq stores events that could not be processed so they can be
// inspected and replayed once the underlying data problem is fixed.
package dlq

import (
	"context"
	"strconv"
	"time"

	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/events/internal/model"
)

// Writer records a dead letter. An error means the dead letter was not
// stored and the source message must not be committed.
type Writer interface {
	Write(ctx context.Context, dl model.DeadLetter) error
}

// FromMessage builds a dead letter for msg. The payload is kept byte for byte.
func FromMessage(msg *messaging.Message, reason model.FailureReason, cause error) model.DeadLetter {
	now := time.Now().UTC()
	dl := model.DeadLetter{
		Payload:    msg.Value,
		Key:        msg.Key,
		Reason:     reason,
		Topic:      msg.Topic,
		Partition:  msg.Partition,
		Offset:     msg.Offset,
		ReceivedAt: msg.Timestamp,
		FailedAt:   now,
	}
	if dl.ReceivedAt.IsZero() {
		dl.ReceivedAt = now
	}
	if cause != nil {
		dl.Error = cause.Error()
	}
	return dl
}

// Headers returns the out-of-band headers describing dl.
func Headers(dl model.DeadLetter) []messaging.Header {
	headers := []messaging.Header{
		{Key: messaging.HeaderDeadLetterReason, Value: []byte(dl.Reason)},
		{Key: messaging.HeaderDeadLetterError, Value: []byte(dl.Error)},
		{Key: messaging.HeaderOriginalTopic, Value: []byte(dl.Topic)},
		{Key: messaging.HeaderOriginalPartition, Value: []byte(strconv.Itoa(dl.Partition))},
		{Key: messaging.HeaderOriginalOffset, Value: []byte(strconv.FormatInt(dl.Offset, 10))},
	}
	if !dl.FailedAt.IsZero() {
		headers = append(headers, messaging.Header{
			Key:   messaging.HeaderDeadLetteredAt,
			Value: []byte(dl.FailedAt.UTC().Format(time.RFC3339Nano)),
		})
	}
	return headers
}

// ReasonFromHeaders reads the failure reason of a dead-lettered message.
func ReasonFromHeaders(msg *messaging.Message) (model.FailureReason, bool) {
	r := model.FailureReason(msg.Header(messaging.HeaderDeadLetterReason))
	return r, r.Valid()
}

// FromDeadLetterMessage reconstructs a dead letter read back from the
// dead-letter topic.
func FromDeadLetterMessage(msg *messaging.Message) model.DeadLetter {
	reason, _ := ReasonFromHeaders(msg)
	partition, _ := strconv.Atoi(msg.Header(messaging.HeaderOriginalPartition))
	offset, _ := strconv.ParseInt(msg.Header(messaging.HeaderOriginalOffset), 10, 64)
	failedAt, _ := time.Parse(time.RFC3339Nano, msg.Header(messaging.HeaderDeadLetteredAt))
	return model.DeadLetter{
		Payload:    msg.Value,
		Key:        msg.Key,
		Reason:     reason,
		Error:      msg.Header(messaging.HeaderDeadLetterError),
		Topic:      msg.Header(messaging.HeaderOriginalTopic),
		Partition:  partition,
		Offset:     offset,
		ReceivedAt: msg.Timestamp,
		FailedAt:   failedAt,
	}
}
