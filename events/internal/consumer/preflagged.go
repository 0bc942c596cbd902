package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/billhawk/billhawk/common/logging"
	"github.com/billhawk/billhawk/common/messaging"
	"github.com/billhawk/billhawk/events/internal/decoder"
	"github.com/billhawk/billhawk/events/internal/dlq"
	"github.com/billhawk/billhawk/events/internal/metrics"
	"github.com/billhawk/billhawk/events/internal/model"
	"github.com/billhawk/billhawk/events/internal/payinadvance"
	"github.com/billhawk/billhawk/events/internal/store"
)

// Preflagged handles events that upstream already marked for pay-in-advance
// pricing. It never publishes enriched events; it only hands fee tasks to
// the dispatcher.
type Preflagged struct {
	resolver    store.Resolver
	dispatcher  payinadvance.Dispatcher
	deadLetters dlq.Writer
	logger      *logging.Logger

	timeout       time.Duration
	maxRetries    uint64
	retryInterval time.Duration
}

// NewPreflagged creates the handler for the charged-in-advance topic.
func NewPreflagged(resolver store.Resolver, dispatcher payinadvance.Dispatcher, deadLetters dlq.Writer, timeout time.Duration, logger *logging.Logger) *Preflagged {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Preflagged{
		resolver:      resolver,
		dispatcher:    dispatcher,
		deadLetters:   deadLetters,
		logger:        logger,
		timeout:       timeout,
		maxRetries:    5,
		retryInterval: 200 * time.Millisecond,
	}
}

// Handle implements Handler.
func (p *Preflagged) Handle(ctx context.Context, msg *messaging.Message) error {
	receivedAt := msg.Timestamp
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	event, err := decoder.Decode(msg.Value, receivedAt)
	if err != nil {
		return p.deadLetter(ctx, msg, err)
	}

	var metric *model.BillableMetric
	err = p.retry(ctx, func(ctx context.Context) error {
		m, err := p.resolver.Resolve(ctx, event.OrganizationID, event.Code)
		if errors.Is(err, store.ErrMetricNotFound) {
			return backoff.Permanent(err)
		}
		metric = m
		return err
	})
	if errors.Is(err, store.ErrMetricNotFound) {
		return p.deadLetter(ctx, msg, &store.UnresolvedError{OrganizationID: event.OrganizationID, Code: event.Code})
	}
	if err != nil {
		return fmt.Errorf("resolve metric: %w", err)
	}

	if !metric.HasPayInAdvanceCharges() {
		p.logger.DebugContext(ctx, "pre-flagged event has no pay-in-advance charges",
			logging.OrganizationID(event.OrganizationID),
			logging.Code(event.Code),
			logging.TransactionID(event.TransactionID),
		)
		return nil
	}
	p.dispatcher.Dispatch(event, metric.ChargeContext())
	return nil
}

func (p *Preflagged) deadLetter(ctx context.Context, msg *messaging.Message, cause error) error {
	reason, ok := model.ReasonOf(cause)
	if !ok {
		return fmt.Errorf("unclassified failure: %w", cause)
	}
	dl := dlq.FromMessage(msg, reason, cause)
	if err := p.retry(ctx, func(ctx context.Context) error {
		return p.deadLetters.Write(ctx, dl)
	}); err != nil {
		return fmt.Errorf("write dead letter (%s): %w", reason, err)
	}
	metrics.EventsDeadLettered.WithLabelValues(string(reason)).Inc()
	p.logger.WarnContext(ctx, "pre-flagged event dead-lettered",
		logging.Reason(string(reason)),
		logging.Error(cause),
	)
	return nil
}

func (p *Preflagged) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(p.retryInterval)), p.maxRetries), ctx)
	return backoff.Retry(func() error {
		actx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		return fn(actx)
	}, b)
}
