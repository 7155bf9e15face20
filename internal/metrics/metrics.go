// Package metrics holds the Prometheus collectors exported by taskd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskd"

// Metrics groups every collector. Collectors are registered on the
// Registerer passed to New, so tests can use a private registry.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	AuthOutcomes    *prometheus.CounterVec
	StoreErrors     *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		AuthOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "resolutions_total",
			Help:      "Bearer credential resolutions by policy and outcome.",
		}, []string{"policy", "outcome"}),

		StoreErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Task operations that failed, by error kind.",
		}, []string{"kind"}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}),
	}
}

// Auth outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeMissing   = "missing"
	OutcomeMalformed = "malformed"
	OutcomeRejected  = "rejected"
)
