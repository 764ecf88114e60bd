package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	dispatches      *prometheus.CounterVec
	cacheEvents     *prometheus.CounterVec
	attempts        prometheus.Counter
	retries         prometheus.Counter
	attemptDuration prometheus.Histogram
}

func newMetrics(registry prometheus.Registerer) *metrics {
	factory := promauto.With(registry)

	return &metrics{
		dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsend_dispatches_total",
				Help: "Dispatches processed, by outcome",
			},
			[]string{"outcome"},
		),
		cacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "httpsend_cache_events_total",
				Help: "Response cache lookups and writes",
			},
			[]string{"event"},
		),
		attempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "httpsend_attempts_total",
			Help: "Network attempts made, including retries",
		}),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Name: "httpsend_retries_total",
			Help: "Attempts made beyond the first of a dispatch",
		}),
		attemptDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "httpsend_attempt_duration_seconds",
			Help:    "Duration of individual network attempts",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
