// Package kafka provides a Kafka implementation of the messaging interfaces
// backed by segmentio/kafka-go.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/billhawk/billhawk/common/messaging"
)

const (
	defaultMinBytes = 1          // 1B: do not hold single events back
	defaultMaxBytes = 10_000_000 // 10MB
)

// ReaderConfig holds consumer group settings.
type ReaderConfig struct {
	Brokers []string
	GroupID string
	Topic   string

	// MaxWait bounds how long a fetch waits for MinBytes to accumulate.
	MaxWait time.Duration

	// QueueCapacity is the number of prefetched messages held in memory.
	QueueCapacity int
}

// WriterConfig holds producer settings.
type WriterConfig struct {
	Brokers []string
	Topic   string

	// RequiredAcks is "all" (default), "one" or "none".
	RequiredAcks string

	// BatchTimeout bounds how long a partial batch waits before being sent.
	BatchTimeout time.Duration

	// MaxAttempts is the number of in-client write attempts before an error
	// is returned to the caller.
	MaxAttempts int
}

// Reader implements messaging.Fetcher on top of a kafka-go group reader.
// Offsets are only committed through Commit.
type Reader struct {
	r     *kafkago.Reader
	topic string
}

// NewReader creates a consumer group reader.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka reader: no brokers configured")
	}
	if cfg.GroupID == "" || cfg.Topic == "" {
		return nil, errors.New("kafka reader: group id and topic are required")
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 250 * time.Millisecond
	}
	queueCapacity := cfg.QueueCapacity
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}

	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:       cfg.Brokers,
		GroupID:       cfg.GroupID,
		Topic:         cfg.Topic,
		MinBytes:      defaultMinBytes,
		MaxBytes:      defaultMaxBytes,
		MaxWait:       maxWait,
		QueueCapacity: queueCapacity,
		// Explicit commits only; the offset advances after downstream publish.
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
	})

	return &Reader{r: r, topic: cfg.Topic}, nil
}

// Fetch returns the next message without committing it.
func (r *Reader) Fetch(ctx context.Context) (*messaging.Message, error) {
	m, err := r.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	return fromKafkaMessage(m), nil
}

// Commit commits msg's offset for its partition.
func (r *Reader) Commit(ctx context.Context, msg *messaging.Message) error {
	if msg == nil {
		return errors.New("kafka reader: nil message")
	}
	topic := msg.Topic
	if topic == "" {
		topic = r.topic
	}
	return r.r.CommitMessages(ctx, kafkago.Message{
		Topic:     topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	})
}

// Lag returns the reader's last known lag.
func (r *Reader) Lag() int64 {
	return r.r.Stats().Lag
}

// Close leaves the consumer group.
func (r *Reader) Close() error {
	return r.r.Close()
}

// Writer implements messaging.Publisher with synchronous, key-hashed writes.
type Writer struct {
	w *kafkago.Writer
}

// NewWriter creates a writer bound to a single topic. Messages are routed by
// key hash so every message sharing a key lands on the same partition.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka writer: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka writer: topic is required")
	}
	acks, err := ParseRequiredAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Millisecond
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	return &Writer{w: &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: acks,
		BatchTimeout: batchTimeout,
		MaxAttempts:  maxAttempts,
		Compression:  kafkago.Snappy,
		// Synchronous writes: Publish returns only after the broker acked.
		Async: false,
	}}, nil
}

// Publish writes msgs and waits for the configured acknowledgements.
func (w *Writer) Publish(ctx context.Context, msgs ...*messaging.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]kafkago.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toKafkaMessage(m))
	}
	if err := w.w.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write to %s: %w", w.w.Topic, err)
	}
	return nil
}

// Topic returns the topic the writer publishes to.
func (w *Writer) Topic() string {
	return w.w.Topic
}

// Close flushes pending writes and releases connections.
func (w *Writer) Close() error {
	return w.w.Close()
}

// ParseRequiredAcks maps a config string onto kafka-go's ack levels.
func ParseRequiredAcks(s string) (kafkago.RequiredAcks, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all", "-1":
		return kafkago.RequireAll, nil
	case "one", "1":
		return kafkago.RequireOne, nil
	case "none", "0":
		return kafkago.RequireNone, nil
	default:
		return kafkago.RequireAll, fmt.Errorf("invalid required_acks %q (supported: all, one, none)", s)
	}
}

// HealthChecker dials the first reachable broker.
type HealthChecker struct {
	Brokers []string
}

// CheckHealth implements messaging.HealthChecker.
func (h HealthChecker) CheckHealth(ctx context.Context) error {
	var lastErr error
	for _, broker := range h.Brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("no brokers configured")
	}
	return fmt.Errorf("kafka unreachable: %w", lastErr)
}

func fromKafkaMessage(m kafkago.Message) *messaging.Message {
	msg := &messaging.Message{
		Topic:         m.Topic,
		Partition:     m.Partition,
		Offset:        m.Offset,
		HighWaterMark: m.HighWaterMark,
		Key:           m.Key,
		Value:         m.Value,
		Timestamp:     m.Time,
	}
	if len(m.Headers) > 0 {
		msg.Headers = make([]messaging.Header, 0, len(m.Headers))
		for _, h := range m.Headers {
			msg.Headers = append(msg.Headers, messaging.Header{Key: h.Key, Value: h.Value})
		}
	}
	return msg
}

func toKafkaMessage(m *messaging.Message) kafkago.Message {
	out := kafkago.Message{
		Key:   m.Key,
		Value: m.Value,
		Time:  m.Timestamp,
	}
	if len(m.Headers) > 0 {
		out.Headers = make([]kafkago.Header, 0, len(m.Headers))
		for _, h := range m.Headers {
			out.Headers = append(out.Headers, kafkago.Header{Key: h.Key, Value: h.Value})
		}
	}
	return out
}
