package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/common/messaging/kafka"
	"github.com/billhawk/billhawk/events/internal/dlq"
	"github.com/billhawk/billhawk/events/internal/model"
	"github.com/billhawk/billhawk/events/internal/output"
)

func dlqCmd(a *app) *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay the file dead-letter queue",
		Long: `Inspect, replay and purge dead letters written by a processor running with
dlq.backend=file.`,
	}
	cmd.PersistentFlags().StringVar(&path, "path", "/var/lib/billhawk/dlq", "dead-letter directory")

	open := func() (*dlq.FileQueue, error) {
		return dlq.NewFileQueue(path)
	}

	cmd.AddCommand(dlqListCmd(a, open))
	cmd.AddCommand(dlqStatsCmd(a, open))
	cmd.AddCommand(dlqDeleteCmd(a, open))
	cmd.AddCommand(dlqPurgeCmd(a, open))
	cmd.AddCommand(dlqReplayCmd(a, open))
	return cmd
}

type queueOpener func() (*dlq.FileQueue, error)

func dlqListCmd(a *app, open queueOpener) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := open()
			if err != nil {
				return a.fail(err)
			}
			entries, err := q.List(context.Background(), limit)
			if err != nil {
				return a.fail(err)
			}
			if handled, err := a.printer.Structured(entries); handled {
				return err
			}
			if len(entries) == 0 {
				a.printer.Info("No dead letters")
				return nil
			}
			tbl := output.NewTable("ID", "FAILED AT", "REASON", "SOURCE", "ERROR")
			for _, e := range entries {
				tbl.AddRow(
					e.ID,
					e.FailedAt.Format(time.RFC3339),
					string(e.Reason),
					e.Topic+"/"+strconv.Itoa(e.Partition)+"@"+strconv.FormatInt(e.Offset, 10),
					truncate(e.Error, 60),
				)
			}
			tbl.Render(a.printer)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum entries to show (0 for all)")
	return cmd
}

func dlqStatsCmd(a *app, open queueOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count pending dead letters by reason",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := open()
			if err != nil {
				return a.fail(err)
			}
			stats, err := q.Stats(context.Background())
			if err != nil {
				return a.fail(err)
			}
			if handled, err := a.printer.Structured(stats); handled {
				return err
			}
			a.printer.Info("%d pending in %s", stats.Pending, stats.BasePath)
			reasons := make([]string, 0, len(stats.ByReason))
			for r := range stats.ByReason {
				reasons = append(reasons, string(r))
			}
			sort.Strings(reasons)
			tbl := output.NewTable("REASON", "COUNT")
			for _, r := range reasons {
				tbl.AddRow(r, strconv.Itoa(stats.ByReason[model.FailureReason(r)]))
			}
			tbl.Render(a.printer)
			return nil
		},
	}
}

func dlqDeleteCmd(a *app, open queueOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete one dead letter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := open()
			if err != nil {
				return a.fail(err)
			}
			if err := q.Delete(context.Background(), args[0]); err != nil {
				return a.fail(err)
			}
			a.printer.Success("Deleted %s", args[0])
			return nil
		},
	}
}

func dlqPurgeCmd(a *app, open queueOpener) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every dead letter",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return a.fail(errors.New("refusing to purge without --yes"))
			}
			q, err := open()
			if err != nil {
				return a.fail(err)
			}
			n, err := q.Purge(context.Background())
			if err != nil {
				return a.fail(err)
			}
			a.printer.Success("Purged %d dead letters", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the purge")
	return cmd
}

func dlqReplayCmd(a *app, open queueOpener) *cobra.Command {
	var (
		brokers []string
		topic   string
		reason  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Republish dead letters to the inbound topic",
		Long: `Republish dead letters byte for byte, with their original key and receive
time, then delete them. Use --reason to replay only one category, e.g. after
creating a missing billable metric:

  billhawk dlq replay --reason metric_not_found`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason != "" && !model.FailureReason(reason).Valid() {
				return a.fail(fmt.Errorf("unknown reason %q", reason))
			}
			q, err := open()
			if err != nil {
				return a.fail(err)
			}
			w, err := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic})
			if err != nil {
				return a.fail(err)
			}
			defer w.Close()

			n, err := replay(context.Background(), q, w, model.FailureReason(reason), limit)
			if err != nil {
				return a.fail(fmt.Errorf("replayed %d: %w", n, err))
			}
			a.printer.Success("Replayed %d dead letters to %s", n, topic)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "Kafka brokers")
	cmd.Flags().StringVar(&topic, "topic", messaging.TopicEventsRaw, "destination topic")
	cmd.Flags().StringVar(&reason, "reason", "", "only replay this failure reason")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries to replay (0 for all)")
	return cmd
}

// replay publishes matching entries one at a time, with their original
// receive time, and deletes each after its publish succeeds.
func replay(ctx context.Context, q *dlq.FileQueue, p messaging.Publisher, reason model.FailureReason, limit int) (int, error) {
	entries, err := q.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	replayed := 0
	for _, e := range entries {
		if limit > 0 && replayed >= limit {
			break
		}
		if reason != "" && e.Reason != reason {
			continue
		}
		msg := &messaging.Message{Key: e.Key, Value: e.Payload, Timestamp: e.ReceivedAt}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		if err := p.Publish(ctx, msg); err != nil {
			return replayed, fmt.Errorf("publish %s: %w", e.ID, err)
		}
		if err := q.Delete(ctx, e.ID); err != nil {
			return replayed, fmt.Errorf("delete %s: %w", e.ID, err)
		}
		replayed++
	}
	return replayed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
