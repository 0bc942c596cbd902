package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/common/messaging/kafka"
	"github.com/billhawk/billhawk/events/internal/seed"
)

const seedBatchSize = 100

func seedCmd(a *app) *cobra.Command {
	var (
		cfg     seed.Config
		brokers []string
		topic   string
		codes   string
		dryRun  bool
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Publish synthetic usage events",
		Long: `Generate realistic usage events and publish them to the inbound topic.

Examples:
  billhawk seed --count 1000 --spread 1h
  billhawk seed --codes storage,seats --invalid-ratio 0.05
  billhawk seed --count 5 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if codes != "" {
				for _, c := range strings.Split(codes, ",") {
					if c = strings.TrimSpace(c); c != "" {
						cfg.Codes = append(cfg.Codes, c)
					}
				}
			}
			events, err := seed.NewGenerator(cfg, time.Now()).Events()
			if err != nil {
				return a.fail(err)
			}

			if dryRun {
				for _, ev := range events {
					fmt.Fprintln(a.printer.Out, string(ev.Payload))
				}
				return nil
			}

			w, err := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic})
			if err != nil {
				return a.fail(err)
			}
			defer w.Close()

			published, invalid, err := publishEvents(cmd.Context(), w, events)
			if err != nil {
				return a.fail(fmt.Errorf("published %d of %d events: %w", published, len(events), err))
			}
			a.printer.Success("Published %d events to %s (%d intentionally invalid)", published, topic, invalid)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&brokers, "brokers", []string{"localhost:9092"}, "Kafka brokers")
	cmd.Flags().StringVar(&topic, "topic", messaging.TopicEventsRaw, "destination topic")
	cmd.Flags().IntVarP(&cfg.Count, "count", "n", 100, "number of events")
	cmd.Flags().IntVar(&cfg.Organizations, "orgs", 3, "number of organizations")
	cmd.Flags().IntVar(&cfg.Subscriptions, "subs", 2, "subscriptions per organization")
	cmd.Flags().StringVar(&codes, "codes", "", "comma-separated metric codes (default: "+strings.Join(seed.DefaultCodes, ",")+")")
	cmd.Flags().DurationVar(&cfg.TimeSpread, "spread", 0, "spread timestamps over this window ending now")
	cmd.Flags().Float64Var(&cfg.InvalidRatio, "invalid-ratio", 0, "share of undecodable events (0..1)")
	cmd.Flags().StringVar(&cfg.Source, "source", "", "source field for valid events")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", 0, "random seed for reproducible output")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print events instead of publishing")

	return cmd
}

func publishEvents(ctx context.Context, p messaging.Publisher, events []seed.Event) (published, invalid int, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	batch := make([]*messaging.Message, 0, seedBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.Publish(ctx, batch...); err != nil {
			return err
		}
		published += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, ev := range events {
		if !ev.Valid {
			invalid++
		}
		batch = append(batch, &messaging.Message{Key: ev.Key, Value: ev.Payload, Timestamp: time.Now()})
		if len(batch) == seedBatchSize {
			if err := flush(); err != nil {
				return published, invalid, err
			}
		}
	}
	return published, invalid, flush()
}
