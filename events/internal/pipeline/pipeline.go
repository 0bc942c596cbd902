// Package pipeline turns inbound usage events into enriched, billable events.
//
// Each message moves through decode, metric resolution and evaluation. A
// data problem at any step sends the original bytes to the dead-letter
// queue. Infrastructure failures are retried with backoff and then returned,
// so the caller never commits a message that was neither published nor
// dead-lettered.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/billhawk/billhawk/common/logging"
	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/events/internal/decoder"
	"github.com/billhawk/billhawk/events/internal/dlq"
	"github.com/billhawk/billhawk/events/internal/expression"
	"github.com/billhawk/billhawk/events/internal/metrics"
	"github.com/billhawk/billhawk/events/internal/model"
	"github.com/billhawk/billhawk/events/internal/payinadvance"
	"github.com/billhawk/billhawk/events/internal/refresh"
	"github.com/billhawk/billhawk/events/internal/store"
)

// Config bounds per-event work.
type Config struct {
	// EventTimeout bounds each attempt of a blocking step.
	EventTimeout time.Duration
	// MaxRetries and MaxElapsed bound retries of one infrastructure step.
	MaxRetries    uint64
	MaxElapsed    time.Duration
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.EventTimeout <= 0 {
		c.EventTimeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = time.Minute
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
	return c
}

// Deps are the collaborators of a Pipeline. Flagger is optional.
type Deps struct {
	Resolver    store.Resolver
	Evaluator   *expression.Evaluator
	Publisher   messaging.Publisher
	DeadLetters dlq.Writer
	Dispatcher  payinadvance.Dispatcher
	Flagger     refresh.Flagger
}

// Pipeline processes inbound messages. It holds no per-partition state and is
// safe for concurrent use by partition workers.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	startedAt    time.Time
	processed    atomic.Uint64
	published    atomic.Uint64
	deadLettered atomic.Uint64
	failed       atomic.Uint64
}

// New creates a Pipeline.
func New(deps Deps, cfg Config, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Default()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = expression.NewEvaluator(nil)
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = payinadvance.DispatcherFunc(func(event *model.RawEvent, _ model.ChargeContext) {
			logger.Warn("pay-in-advance dispatcher not configured", logging.TransactionID(event.TransactionID))
		})
	}
	return &Pipeline{
		deps:      deps,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       time.Now,
		startedAt: time.Now().UTC(),
	}
}

// Process runs msg through the pipeline. A nil error means the message
// reached a terminal state and may be committed. A non-nil error is an
// infrastructure failure that survived retries.
func (p *Pipeline) Process(ctx context.Context, msg *messaging.Message) (Outcome, error) {
	start := p.now()
	ctx = logging.WithEventAttrs(ctx,
		logging.Topic(msg.Topic),
		logging.Partition(msg.Partition),
		logging.Offset(msg.Offset),
	)

	out, err := p.process(ctx, msg)

	p.processed.Add(1)
	label := out.State.String()
	if err != nil {
		p.failed.Add(1)
		label = "error"
	}
	metrics.ProcessingDuration.WithLabelValues(label).Observe(p.now().Sub(start).Seconds())
	return out, err
}

func (p *Pipeline) process(ctx context.Context, msg *messaging.Message) (Outcome, error) {
	out := Outcome{State: StateReceived}

	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}
	event, err := decoder.Decode(msg.Value, receivedAt)
	if err != nil {
		return p.deadLetter(ctx, msg, out, err)
	}
	out.State = StateDecoded
	out.Event = event
	ctx = logging.WithEventAttrs(ctx,
		logging.OrganizationID(event.OrganizationID),
		logging.Code(event.Code),
		logging.TransactionID(event.TransactionID),
	)

	metric, err := p.resolve(ctx, event)
	if errors.Is(err, store.ErrMetricNotFound) {
		return p.deadLetter(ctx, msg, out, &store.UnresolvedError{OrganizationID: event.OrganizationID, Code: event.Code})
	}
	if err != nil {
		return out, fmt.Errorf("resolve metric: %w", err)
	}
	out.State = StateMetricResolved

	result := p.deps.Evaluator.Evaluate(metric, event)
	if !result.OK() {
		return p.deadLetter(ctx, msg, out, result.Err)
	}
	out.State = StateEvaluated
	out.Value = result.Value

	enriched, err := json.Marshal(model.Enrich(event, result.Value, p.now()))
	if err != nil {
		return out, fmt.Errorf("marshal enriched event: %w", err)
	}
	out.Key = event.PartitionKey()
	if err := p.publish(ctx, out.Key, enriched, event); err != nil {
		return out, fmt.Errorf("publish enriched event: %w", err)
	}
	out.State = StatePublished
	p.published.Add(1)
	metrics.EventsPublished.Inc()

	if metric.HasPayInAdvanceCharges() && event.Origin().NeedsPayInAdvanceDispatch() {
		p.dispatch(ctx, event, metric.ChargeContext())
		out.Dispatched = true
	}
	p.flagRefresh(ctx, event)

	return out, nil
}

func (p *Pipeline) resolve(ctx context.Context, event *model.RawEvent) (*model.BillableMetric, error) {
	var metric *model.BillableMetric
	err := p.retry(ctx, "resolve", func(ctx context.Context) error {
		m, err := p.deps.Resolver.Resolve(ctx, event.OrganizationID, event.Code)
		if errors.Is(err, store.ErrMetricNotFound) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		metric = m
		return nil
	})
	return metric, err
}

func (p *Pipeline) publish(ctx context.Context, key string, value []byte, event *model.RawEvent) error {
	msg := &messaging.Message{
		Key:       []byte(key),
		Value:     value,
		Timestamp: p.now(),
	}
	msg.SetHeader("transaction_id", event.TransactionID)
	msg.SetHeader("organization_id", event.OrganizationID)

	return p.retry(ctx, "publish", func(ctx context.Context) error {
		return p.deps.Publisher.Publish(ctx, msg)
	})
}

func (p *Pipeline) deadLetter(ctx context.Context, msg *messaging.Message, out Outcome, cause error) (Outcome, error) {
	reason, ok := model.ReasonOf(cause)
	if !ok {
		return out, fmt.Errorf("unclassified failure: %w", cause)
	}

	dl := dlq.FromMessage(msg, reason, cause)
	err := p.retry(ctx, "dead_letter", func(ctx context.Context) error {
		return p.deps.DeadLetters.Write(ctx, dl)
	})
	if err != nil {
		return out, fmt.Errorf("write dead letter (%s): %w", reason, err)
	}

	out.State = StateDeadLettered
	out.Reason = reason
	p.deadLettered.Add(1)
	metrics.EventsDeadLettered.WithLabelValues(string(reason)).Inc()
	p.logger.WarnContext(ctx, "event dead-lettered",
		logging.Reason(string(reason)),
		logging.Error(cause),
	)
	return out, nil
}

// dispatch hands the event to the pay-in-advance path. Nothing it does can
// fail the event.
func (p *Pipeline) dispatch(ctx context.Context, event *model.RawEvent, charges model.ChargeContext) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PayInAdvanceDispatches.WithLabelValues(metrics.DispatchFailed).Inc()
			p.logger.ErrorContext(ctx, "pay-in-advance dispatch panicked", slog.Any("panic", r))
		}
	}()
	p.deps.Dispatcher.Dispatch(event, charges)
}

func (p *Pipeline) flagRefresh(ctx context.Context, event *model.RawEvent) {
	if p.deps.Flagger == nil || event.ExternalSubscriptionID == "" {
		return
	}
	fctx, cancel := context.WithTimeout(ctx, p.cfg.EventTimeout)
	defer cancel()
	if err := p.deps.Flagger.Flag(fctx, event.OrganizationID, event.ExternalSubscriptionID); err != nil {
		metrics.RefreshFlags.WithLabelValues("failed").Inc()
		p.logger.WarnContext(ctx, "failed to flag subscription for refresh",
			logging.SubscriptionID(event.ExternalSubscriptionID),
			logging.Error(err),
		)
		return
	}
	metrics.RefreshFlags.WithLabelValues("flagged").Inc()
}

// retry runs fn with a per-attempt timeout and exponential backoff.
// Permanent errors stop immediately and are returned unwrapped.
func (p *Pipeline) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.cfg.RetryInterval),
		backoff.WithMaxInterval(10*p.cfg.RetryInterval),
		backoff.WithMaxElapsedTime(p.cfg.MaxElapsed),
	), p.cfg.MaxRetries), ctx)

	return backoff.RetryNotify(func() error {
		actx, cancel := context.WithTimeout(ctx, p.cfg.EventTimeout)
		defer cancel()
		return fn(actx)
	}, b, func(err error, wait time.Duration) {
		metrics.PublishRetries.WithLabelValues(op).Inc()
		p.logger.WarnContext(ctx, "retrying "+op,
			logging.Error(err),
			logging.Duration(wait),
		)
	})
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Processed     uint64 `json:"processed"`
	Published     uint64 `json:"published"`
	DeadLettered  uint64 `json:"dead_lettered"`
	Failed        uint64 `json:"failed"`
}

// Stats returns live counters for health endpoints.
func (p *Pipeline) Stats() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(p.startedAt).Seconds()),
		Processed:     p.processed.Load(),
		Published:     p.published.Load(),
		DeadLettered:  p.deadLettered.Load(),
		Failed:        p.failed.Load(),
	}
}
