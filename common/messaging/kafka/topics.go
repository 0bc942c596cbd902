package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	defaultReplicationFactor = 1
	defaultRetentionMs       = "604800000"  // 7d
	deadLetterRetentionMs    = "2592000000" // 30d, long enough for a backfill and replay
)

// TopicSpec describes a topic to provision.
type TopicSpec struct {
	Name       string
	Partitions int
	// RetentionMs overrides the default retention when non-empty.
	RetentionMs string
}

// EnsureTopicsArgs lists the pipeline's topics.
type EnsureTopicsArgs struct {
	Brokers          []string
	Input            TopicSpec
	Output           TopicSpec
	DeadLetter       TopicSpec
	ChargedInAdvance TopicSpec
}

// EnsureTopics creates missing topics through the cluster controller.
// Failures are logged and returned as a combined error; existing topics are left untouched.
func EnsureTopics(ctx context.Context, a EnsureTopicsArgs) error {
	if len(a.Brokers) == 0 {
		return fmt.Errorf("ensure topics: no brokers configured")
	}
	if a.DeadLetter.RetentionMs == "" {
		a.DeadLetter.RetentionMs = deadLetterRetentionMs
	}

	var failed []string
	for _, spec := range []TopicSpec{a.Input, a.Output, a.DeadLetter, a.ChargedInAdvance} {
		if spec.Name == "" {
			continue
		}
		if err := ensureTopic(ctx, a.Brokers[0], spec); err != nil {
			slog.Warn("ensure topic failed", slog.String("topic", spec.Name), slog.String("error", err.Error()))
			failed = append(failed, spec.Name)
			continue
		}
		slog.Info("topic ready", slog.String("topic", spec.Name), slog.Int("partitions", spec.Partitions))
	}
	if len(failed) > 0 {
		return fmt.Errorf("ensure topics: failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func ensureTopic(ctx context.Context, broker string, spec TopicSpec) error {
	conn, err := kafkago.DialContext(ctx, "tcp", broker)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("controller: %w", err)
	}

	ctrlAddr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrlConn, err := kafkago.DialContext(ctx, "tcp", ctrlAddr)
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrlConn.Close()

	if err := ctrlConn.CreateTopics(topicConfig(spec)); err != nil {
		if !strings.Contains(strings.ToLower(err.Error()), "exists") {
			return fmt.Errorf("create topic %s: %w", spec.Name, err)
		}
	}
	return nil
}

func topicConfig(spec TopicSpec) kafkago.TopicConfig {
	partitions := spec.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	retention := spec.RetentionMs
	if retention == "" {
		retention = defaultRetentionMs
	}
	return kafkago.TopicConfig{
		Topic:             spec.Name,
		NumPartitions:     partitions,
		ReplicationFactor: defaultReplicationFactor,
		ConfigEntries: []kafkago.ConfigEntry{
			{ConfigName: "cleanup.policy", ConfigValue: "delete"},
			{ConfigName: "retention.ms", ConfigValue: retention},
		},
	}
}
