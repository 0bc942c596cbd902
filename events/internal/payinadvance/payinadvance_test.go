package payinadvance

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/events/internal/model"
)

type recordingSink struct {
	mu       sync.Mutex
	tasks    []FeeTask
	failures atomic.Int32
	block    chan struct{}
}

func (s *recordingSink) Send(ctx context.Context, task FeeTask) error {
	if s.block != nil {
		<-s.block
	}
	if s.failures.Load() > 0 {
		s.failures.Add(-1)
		return errors.New("nats: no responders")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

func (s *recordingSink) sent() []FeeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FeeTask(nil), s.tasks...)
}

func testEvent(tx string) *model.RawEvent {
	return &model.RawEvent{
		OrganizationID:         "org_1",
		TransactionID:          tx,
		ExternalSubscriptionID: "sub_1",
		Code:                   "storage",
		Timestamp:              time.Unix(1700000000, 0),
		Properties:             map[string]any{"gb": json.Number("5")},
	}
}

var charges = model.ChargeContext{BillableMetricID: "bm_1", ChargeIDs: []string{"ch_1"}}

func TestAsyncDispatcher_Sends(t *testing.T) {
	sink := &recordingSink{}
	d := NewAsyncDispatcher(sink, Config{Workers: 2, BufferSize: 16}, nil)

	for _, tx := range []string{"tx_1", "tx_2", "tx_3"} {
		d.Dispatch(testEvent(tx), charges)
	}
	require.NoError(t, d.Close(context.Background()))

	tasks := sink.sent()
	require.Len(t, tasks, 3)
	for _, task := range tasks {
		assert.NotEmpty(t, task.ID)
		assert.Equal(t, "bm_1", task.Charges.BillableMetricID)
		assert.Equal(t, "org_1", task.Event.OrganizationID)
	}
}

func TestAsyncDispatcher_RetriesTransientFailures(t *testing.T) {
	sink := &recordingSink{}
	sink.failures.Store(2)
	d := NewAsyncDispatcher(sink, Config{Workers: 1, MaxRetries: 3, RetryInterval: time.Millisecond}, nil)

	d.Dispatch(testEvent("tx_1"), charges)
	require.NoError(t, d.Close(context.Background()))
	assert.Len(t, sink.sent(), 1)
}

func TestAsyncDispatcher_GivesUpAfterRetries(t *testing.T) {
	sink := &recordingSink{}
	sink.failures.Store(100)
	d := NewAsyncDispatcher(sink, Config{Workers: 1, MaxRetries: 2, RetryInterval: time.Millisecond}, nil)

	d.Dispatch(testEvent("tx_1"), charges)
	require.NoError(t, d.Close(context.Background()))
	assert.Empty(t, sink.sent())
	assert.Equal(t, int32(97), sink.failures.Load())
}

func TestAsyncDispatcher_NeverBlocks(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewAsyncDispatcher(sink, Config{Workers: 1, BufferSize: 1}, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Dispatch(testEvent("tx"), charges)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a stalled sink")
	}

	close(sink.block)
	require.NoError(t, d.Close(context.Background()))
	assert.LessOrEqual(t, len(sink.sent()), 2)
}

func TestAsyncDispatcher_DispatchAfterClose(t *testing.T) {
	sink := &recordingSink{}
	d := NewAsyncDispatcher(sink, Config{}, nil)
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() { d.Dispatch(testEvent("tx_late"), charges) })
	assert.Empty(t, sink.sent())
}

func TestAsyncDispatcher_CloseHonorsContext(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	d := NewAsyncDispatcher(sink, Config{Workers: 1}, nil)
	d.Dispatch(testEvent("tx_1"), charges)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)

	close(sink.block)
}

type fakeStream struct {
	subject string
	data    []byte
	msgID   string
	err     error
}

func (f *fakeStream) PublishSync(ctx context.Context, subject string, data []byte, msgID string) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subject, f.data, f.msgID = subject, data, msgID
	return &jetstream.PubAck{Stream: "BILLING_FEES", Sequence: 1}, nil
}

func TestJetStreamSink_Send(t *testing.T) {
	js := &fakeStream{}
	sink := NewJetStreamSink(js, "")

	task, err := NewFeeTask(testEvent("tx_9"), charges, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), task))

	assert.Equal(t, messaging.SubjectPayInAdvanceFees, js.subject)
	assert.Equal(t, "org_1/tx_9/bm_1", js.msgID)

	var decoded FeeTask
	require.NoError(t, json.Unmarshal(js.data, &decoded))
	assert.Equal(t, task.ID, decoded.ID)
	assert.Equal(t, "tx_9", decoded.Event.TransactionID)
	assert.Equal(t, json.Number("1700000000"), decoded.Event.Timestamp)
	assert.Equal(t, []string{"ch_1"}, decoded.Charges.ChargeIDs)
}

func TestJetStreamSink_Error(t *testing.T) {
	sink := NewJetStreamSink(&fakeStream{err: errors.New("timeout")}, "custom.subject")
	task, err := NewFeeTask(testEvent("tx"), charges, time.Now())
	require.NoError(t, err)
	assert.ErrorContains(t, sink.Send(context.Background(), task), "timeout")
}
