package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Consumer metrics
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billhawk_events_consumed_total",
			Help: "Total number of messages read from inbound topics",
		},
		[]string{"topic"},
	)

	ConsumerLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billhawk_events_consumer_lag",
			Help: "Messages behind the partition high-water mark",
		},
		[]string{"topic", "partition"},
	)

	CommitErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billhawk_events_commit_errors_total",
			Help: "Total number of failed offset commits",
		},
	)

	// Pipeline metrics
	EventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billhawk_events_published_total",
			Help: "Total number of enriched events published",
		},
	)

	EventsDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billhawk_events_dead_lettered_total",
			Help: "Total number of events routed to the dead-letter topic",
		},
		[]string{"reason"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billhawk_events_processing_duration_seconds",
			Help:    "Duration of per-event processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	PublishRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billhawk_events_infrastructure_retries_total",
			Help: "Total number of retried infrastructure operations",
		},
		[]string{"operation"},
	)

	// Metric resolver cache
	MetricCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billhawk_events_metric_cache_requests_total",
			Help: "Billable metric cache lookups",
		},
		[]string{"result"},
	)

	// Pay-in-advance dispatch
	PayInAdvanceDispatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billhawk_events_pay_in_advance_dispatches_total",
			Help: "Pay-in-advance fee tasks by result",
		},
		[]string{"result"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "billhawk_events_dispatch_queue_depth",
			Help: "Fee tasks waiting to be sent",
		},
	)

	// Subscription refresh flags
	RefreshFlags = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billhawk_events_subscription_refresh_flags_total",
			Help: "Subscription usage refresh flags by result",
		},
		[]string{"result"},
	)
)

// Dispatch results.
const (
	DispatchEnqueued = "enqueued"
	DispatchDropped  = "dropped"
	DispatchSent     = "sent"
	DispatchFailed   = "failed"
)

// Cache results.
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

// RegisterExpressionCacheSize exposes the compiled-expression cache size.
// It is registered once per process.
func RegisterExpressionCacheSize(size func() int) {
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "billhawk_events_expression_cache_entries",
			Help: "Compiled expressions held in the cache",
		},
		func() float64 { return float64(size()) },
	)
}
