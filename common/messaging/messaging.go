// Package messaging provides abstractions for message broker communication.
// It defines the types the event pipeline uses to consume and publish
// messages without being coupled to a specific broker implementation.
package messaging

import (
	"context"
	"strconv"
	"time"
)

// Header is a single message header. Brokers allow repeated keys, so headers
// are kept as an ordered slice rather than a map.
type Header struct {
	Key   string
	Value []byte
}

// Message represents a message received from or sent to a message broker.
type Message struct {
	// Topic is the topic/subject the message was published to.
	Topic string

	// Partition and Offset locate a consumed message within its topic.
	// They are zero for messages built for publishing.
	Partition int
	Offset    int64

	// HighWaterMark is the partition's next offset at fetch time, used for lag.
	HighWaterMark int64

	// Key is the partitioning key. Messages sharing a key keep their relative order.
	Key []byte

	// Value is the raw message payload.
	Value []byte

	// Headers carries out-of-band metadata such as dead-letter reasons.
	Headers []Header

	// Timestamp is when the message was produced.
	Timestamp time.Time
}

// Header returns the first header value for key, or "" when absent.
func (m *Message) Header(key string) string {
	for _, h := range m.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// SetHeader appends a header to the message.
func (m *Message) SetHeader(key, value string) {
	m.Headers = append(m.Headers, Header{Key: key, Value: []byte(value)})
}

// Lag returns how many messages of the partition remain after this one.
func (m *Message) Lag() int64 {
	if m.HighWaterMark <= 0 {
		return 0
	}
	lag := m.HighWaterMark - m.Offset - 1
	if lag < 0 {
		return 0
	}
	return lag
}

// Coordinates returns a compact "topic/partition@offset" string for logs.
func (m *Message) Coordinates() string {
	return m.Topic + "/" + strconv.Itoa(m.Partition) + "@" + strconv.FormatInt(m.Offset, 10)
}

// Publisher publishes messages to a topic.
type Publisher interface {
	// Publish sends messages and returns once the broker acknowledged them.
	Publish(ctx context.Context, msgs ...*Message) error

	// Close releases any resources held by the publisher.
	Close() error
}

// Fetcher reads messages from a consumer group without committing them.
type Fetcher interface {
	// Fetch blocks until the next message is available or ctx is done.
	Fetch(ctx context.Context) (*Message, error)

	// Commit marks msg (and everything before it on its partition) as consumed.
	Commit(ctx context.Context, msg *Message) error

	// Close leaves the consumer group and releases resources.
	Close() error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, msgs ...*Message) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, msgs ...*Message) error {
	return f(ctx, msgs...)
}

// Close is a no-op.
func (f PublisherFunc) Close() error { return nil }
