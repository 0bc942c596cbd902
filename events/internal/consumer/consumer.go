// Package consumer drives handlers from a consumer group.
//
// Messages of one partition are handled strictly in order by a dedicated
// worker; different partitions run in parallel. A message is committed only
// after its handler returns nil, so an uncommitted message is redelivered
// after a restart or rebalance.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/billhawk/billhawk/common/logging"
	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/events/internal/metrics"
)

// Handler handles one message. A nil error means the message may be committed.
type Handler interface {
	Handle(ctx context.Context, msg *messaging.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *messaging.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *messaging.Message) error {
	return f(ctx, msg)
}

// Config tunes a PartitionedConsumer.
type Config struct {
	// Topic labels metrics and logs.
	Topic string
	// PartitionBuffer is the number of fetched messages queued per partition.
	PartitionBuffer int
	// DrainTimeout bounds how long an in-flight message may keep running
	// after shutdown starts.
	DrainTimeout time.Duration
	// CommitTimeout bounds a single offset commit.
	CommitTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PartitionBuffer <= 0 {
		c.PartitionBuffer = 256
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 15 * time.Second
	}
	if c.CommitTimeout <= 0 {
		c.CommitTimeout = 5 * time.Second
	}
	return c
}

// PartitionedConsumer fetches from one Fetcher and fans messages out to one
// worker goroutine per partition.
type PartitionedConsumer struct {
	fetcher messaging.Fetcher
	handler Handler
	cfg     Config
	logger  *logging.Logger

	handled   atomic.Uint64
	committed atomic.Uint64
}

// NewPartitionedConsumer creates a consumer. Call Run to start it.
func NewPartitionedConsumer(fetcher messaging.Fetcher, handler Handler, cfg Config, logger *logging.Logger) *PartitionedConsumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &PartitionedConsumer{
		fetcher: fetcher,
		handler: handler,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Run consumes until ctx is cancelled or a handler fails. It returns nil on
// a clean shutdown and the first handler or fetch error otherwise.
func (c *PartitionedConsumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		workers := make(map[int]chan *messaging.Message)
		defer func() {
			for _, ch := range workers {
				close(ch)
			}
		}()

		for {
			msg, err := c.fetcher.Fetch(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("fetch from %s: %w", c.cfg.Topic, err)
			}
			topic := msg.Topic
			if topic == "" {
				topic = c.cfg.Topic
			}
			metrics.EventsConsumed.WithLabelValues(topic).Inc()
			metrics.ConsumerLag.WithLabelValues(topic, strconv.Itoa(msg.Partition)).Set(float64(msg.Lag()))

			ch, ok := workers[msg.Partition]
			if !ok {
				ch = make(chan *messaging.Message, c.cfg.PartitionBuffer)
				workers[msg.Partition] = ch
				partition := msg.Partition
				g.Go(func() error {
					return c.work(gctx, partition, ch)
				})
			}

			select {
			case ch <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	return g.Wait()
}

func (c *PartitionedConsumer) work(ctx context.Context, partition int, msgs <-chan *messaging.Message) error {
	c.logger.Debug("partition worker started", logging.Topic(c.cfg.Topic), logging.Partition(partition))
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

// handle runs the handler on a context that outlives shutdown by at most
// DrainTimeout, then commits.
func (c *PartitionedConsumer) handle(ctx context.Context, msg *messaging.Message) error {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(c.cfg.DrainTimeout, cancel)
	})
	defer stop()

	if err := c.handler.Handle(hctx, msg); err != nil {
		if ctx.Err() != nil {
			c.logger.Warn("abandoned in-flight message at shutdown",
				slog.String("message", msg.Coordinates()),
				logging.Error(err),
			)
			return nil
		}
		c.logger.Error("handler failed; stopping consumer",
			slog.String("message", msg.Coordinates()),
			logging.Error(err),
		)
		return fmt.Errorf("handle %s: %w", msg.Coordinates(), err)
	}
	c.handled.Add(1)

	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CommitTimeout)
	defer ccancel()
	if err := c.fetcher.Commit(cctx, msg); err != nil {
		// A later commit on the same partition covers this offset; at worst
		// the message is redelivered.
		metrics.CommitErrors.Inc()
		c.logger.Error("commit failed",
			slog.String("message", msg.Coordinates()),
			logging.Error(err),
		)
		return nil
	}
	c.committed.Add(1)
	return nil
}

// Handled returns how many messages reached a terminal state.
func (c *PartitionedConsumer) Handled() uint64 { return c.handled.Load() }

// Committed returns how many offsets were committed.
func (c *PartitionedConsumer) Committed() uint64 { return c.committed.Load() }
