package payinadvance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/billhawk/billhawk/common/logging"
	"github.com/billhawk/billhawk/events/internal/metrics"
	"github.com/billhawk/billhawk/events/internal/model"
)

// Dispatcher schedules fee computation. Dispatch must never block the caller
// and never reports failure back to it.
type Dispatcher interface {
	Dispatch(event *model.RawEvent, charges model.ChargeContext)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(event *model.RawEvent, charges model.ChargeContext)

func (f DispatcherFunc) Dispatch(event *model.RawEvent, charges model.ChargeContext) {
	f(event, charges)
}

// Sink delivers a fee task to the fee computation service.
type Sink interface {
	Send(ctx context.Context, task FeeTask) error
}

// Config tunes an AsyncDispatcher.
type Config struct {
	Workers     int
	BufferSize  int
	SendTimeout time.Duration
	MaxRetries  uint64
	// RetryInterval is the first backoff delay between send attempts.
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 100 * time.Millisecond
	}
	return c
}

// AsyncDispatcher buffers fee tasks and sends them from a fixed set of
// workers. When the buffer is full the task is dropped and logged.
type AsyncDispatcher struct {
	sink   Sink
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	tasks  chan FeeTask
	wg     sync.WaitGroup
}

// NewAsyncDispatcher starts cfg.Workers workers sending to sink.
func NewAsyncDispatcher(sink Sink, cfg Config, logger *slog.Logger) *AsyncDispatcher {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	d := &AsyncDispatcher{
		sink:   sink,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		tasks:  make(chan FeeTask, cfg.BufferSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Dispatch enqueues a fee task without blocking.
func (d *AsyncDispatcher) Dispatch(event *model.RawEvent, charges model.ChargeContext) {
	task, err := NewFeeTask(event, charges, d.now())
	if err != nil {
		d.drop(event, err.Error())
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(event, "dispatcher closed")
		return
	}

	select {
	case d.tasks <- task:
		metrics.PayInAdvanceDispatches.WithLabelValues(metrics.DispatchEnqueued).Inc()
		metrics.DispatchQueueDepth.Set(float64(len(d.tasks)))
	default:
		d.drop(event, "dispatch buffer full")
	}
}

func (d *AsyncDispatcher) drop(event *model.RawEvent, why string) {
	metrics.PayInAdvanceDispatches.WithLabelValues(metrics.DispatchDropped).Inc()
	d.logger.Error("pay-in-advance dispatch dropped",
		logging.OrganizationID(event.OrganizationID),
		logging.TransactionID(event.TransactionID),
		logging.Code(event.Code),
		logging.Reason(why),
	)
}

func (d *AsyncDispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		metrics.DispatchQueueDepth.Set(float64(len(d.tasks)))
		d.send(task)
	}
}

func (d *AsyncDispatcher) send(task FeeTask) {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(d.cfg.RetryInterval),
		backoff.WithMaxInterval(20*d.cfg.RetryInterval),
	), d.cfg.MaxRetries)

	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
		defer cancel()
		return d.sink.Send(ctx, task)
	}, b)
	if err != nil {
		metrics.PayInAdvanceDispatches.WithLabelValues(metrics.DispatchFailed).Inc()
		d.logger.Error("failed to send pay-in-advance fee task",
			slog.String("task_id", task.ID),
			logging.OrganizationID(task.Event.OrganizationID),
			logging.TransactionID(task.Event.TransactionID),
			logging.Error(err),
		)
		return
	}
	metrics.PayInAdvanceDispatches.WithLabelValues(metrics.DispatchSent).Inc()
}

// Close stops accepting tasks and waits for queued ones to be sent, or for
// ctx to end.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of buffered tasks.
func (d *AsyncDispatcher) Pending() int {
	return len(d.tasks)
}
