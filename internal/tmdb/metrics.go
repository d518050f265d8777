package tmdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marquee_tmdb_requests_total",
		Help: "Catalog requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marquee_tmdb_retries_total",
		Help: "Catalog search retries after a failed attempt",
	})

	backoffSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marquee_tmdb_backoff_seconds_total",
		Help: "Time spent waiting between search attempts",
	})

	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marquee_poster_resolutions_total",
		Help: "Poster lookups that reached the catalog, by result",
	}, []string{"result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marquee_tmdb_request_duration_seconds",
		Help:    "Latency of single catalog requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "marquee_tmdb_breaker_state",
		Help: "Catalog circuit breaker state (0 closed, 1 open, 2 half-open)",
	})
)
