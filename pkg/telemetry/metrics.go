package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the registered metric set for one process.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheErrors prometheus.Counter

	EventsAppended     prometheus.Counter
	EventsApplied      prometheus.Counter
	EventsRetried      prometheus.Counter
	EventsDeadLettered prometheus.Counter

	BroadcastDelivered prometheus.Counter
	BroadcastDropped   prometheus.Counter

	LeaderHeld *prometheus.GaugeVec
}

// NewMetrics builds and registers the metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "titan_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_cache_hits_total",
			Help: "Cache hits by scope (entity|list).",
		}, []string{"scope"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "titan_cache_misses_total",
			Help: "Cache misses by scope (entity|list).",
		}, []string{"scope"}),
		CacheErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_cache_errors_total",
			Help: "Cache operations that failed open.",
		}),

		EventsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_events_appended_total",
			Help: "Mutation events appended to the log.",
		}),
		EventsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_events_applied_total",
			Help: "Events applied to the store and acked.",
		}),
		EventsRetried: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_events_retried_total",
			Help: "Event apply attempts that were retried.",
		}),
		EventsDeadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_events_dead_lettered_total",
			Help: "Events moved to the DLQ stream.",
		}),

		BroadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_broadcast_delivered_total",
			Help: "Events delivered to subscriber queues.",
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "titan_broadcast_dropped_total",
			Help: "Events dropped because a subscriber lagged.",
		}),

		LeaderHeld: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "titan_leader_held",
			Help: "1 while this instance holds the role lease.",
		}, []string{"role"}),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.CacheHits, m.CacheMisses, m.CacheErrors,
		m.EventsAppended, m.EventsApplied, m.EventsRetried, m.EventsDeadLettered,
		m.BroadcastDelivered, m.BroadcastDropped,
		m.LeaderHeld,
	)
	return m
}

// NewTestMetrics builds a metric set on a private registry for tests.
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
