package dlq

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/events/internal/model"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*messaging.Message
	err  error
}

func (p *recordingPublisher) Publish(ctx context.Context, msgs ...*messaging.Message) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msgs...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

var sourceTime = time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)

func sourceMessage() *messaging.Message {
	return &messaging.Message{
		Topic:     messaging.TopicEventsRaw,
		Partition: 3,
		Offset:    42,
		Key:       []byte("org-sub-code"),
		Value:     []byte(`{"organization_id":"o","code":"missing"}` + "\n"),
		Timestamp: sourceTime,
	}
}

func TestKafkaQueue_Write(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewKafkaQueue(pub, nil)

	src := sourceMessage()
	dl := FromMessage(src, model.ReasonMetricNotFound, errors.New("billable metric not found"))
	require.NoError(t, q.Write(context.Background(), dl))

	require.Len(t, pub.msgs, 1)
	out := pub.msgs[0]
	assert.Equal(t, src.Value, out.Value, "payload must be unchanged")
	assert.Equal(t, src.Key, out.Key)
	assert.Equal(t, "metric_not_found", out.Header(messaging.HeaderDeadLetterReason))
	assert.Equal(t, "billable metric not found", out.Header(messaging.HeaderDeadLetterError))
	assert.Equal(t, messaging.TopicEventsRaw, out.Header(messaging.HeaderOriginalTopic))
	assert.Equal(t, "3", out.Header(messaging.HeaderOriginalPartition))
	assert.Equal(t, "42", out.Header(messaging.HeaderOriginalOffset))

	reason, ok := ReasonFromHeaders(out)
	require.True(t, ok)
	assert.Equal(t, model.ReasonMetricNotFound, reason)

	assert.True(t, sourceTime.Equal(out.Timestamp), "record time is the source message time")
	assert.NotEmpty(t, out.Header(messaging.HeaderDeadLetteredAt))

	back := FromDeadLetterMessage(out)
	assert.Equal(t, dl.Payload, back.Payload)
	assert.Equal(t, dl.Partition, back.Partition)
	assert.Equal(t, dl.Offset, back.Offset)
	assert.Equal(t, dl.Topic, back.Topic)
	assert.True(t, sourceTime.Equal(back.ReceivedAt))
	assert.True(t, dl.FailedAt.Equal(back.FailedAt))
}

func TestFromMessage_ReceivedAt(t *testing.T) {
	dl := FromMessage(sourceMessage(), model.ReasonMetricNotFound, nil)
	assert.True(t, sourceTime.Equal(dl.ReceivedAt))
	assert.False(t, dl.FailedAt.Before(dl.ReceivedAt))

	untimed := sourceMessage()
	untimed.Timestamp = time.Time{}
	dl = FromMessage(untimed, model.ReasonMetricNotFound, nil)
	assert.False(t, dl.ReceivedAt.IsZero())
}

func TestKafkaQueue_WriteError(t *testing.T) {
	q := NewKafkaQueue(&recordingPublisher{err: errors.New("broker down")}, nil)
	err := q.Write(context.Background(), FromMessage(sourceMessage(), model.ReasonDecodeError, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestReasonFromHeaders_Unknown(t *testing.T) {
	msg := &messaging.Message{}
	msg.SetHeader(messaging.HeaderDeadLetterReason, "bogus")
	_, ok := ReasonFromHeaders(msg)
	assert.False(t, ok)
}

func TestFileQueue_WriteListStatsPurge(t *testing.T) {
	ctx := context.Background()
	q, err := NewFileQueue(t.TempDir())
	require.NoError(t, err)

	src := sourceMessage()
	require.NoError(t, q.Write(ctx, FromMessage(src, model.ReasonDecodeError, errors.New("malformed JSON"))))
	require.NoError(t, q.Write(ctx, FromMessage(src, model.ReasonDivisionByZero, errors.New("divisor is zero"))))
	require.NoError(t, q.Write(ctx, FromMessage(src, model.ReasonDivisionByZero, nil)))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.ReasonDecodeError, events[0].Reason, "oldest first")
	assert.Equal(t, src.Value, events[0].Payload)
	assert.Equal(t, src.Value, events[0].DeadLetter().Payload)
	assert.True(t, sourceTime.Equal(events[0].ReceivedAt))
	assert.True(t, sourceTime.Equal(events[0].DeadLetter().ReceivedAt))

	limited, err := q.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, uint64(3), stats.Written)
	assert.Equal(t, 2, stats.ByReason[model.ReasonDivisionByZero])

	require.NoError(t, q.Delete(ctx, events[0].ID))
	assert.ErrorIs(t, q.Delete(ctx, events[0].ID), ErrNotFound)

	n, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	events, err = q.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFileQueue_SkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	q, err := NewFileQueue(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failed_broken.json"), []byte("{"), 0o644))
	require.NoError(t, q.Write(ctx, FromMessage(sourceMessage(), model.ReasonSyntaxError, nil)))

	events, err := q.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ReasonSyntaxError, events[0].Reason)
}

func TestFileQueue_DeleteRejectsInvalidID(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	base := filepath.Join(root, "dlq")
	q, err := NewFileQueue(base)
	require.NoError(t, err)

	outside := filepath.Join(root, "failed_x.json")
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0o644))

	for _, id := range []string{"../x", "", "not-a-uuid", "../../etc/passwd"} {
		err := q.Delete(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidID, id)
	}
	assert.FileExists(t, outside)
}
