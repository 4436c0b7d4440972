// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "book_catalog"

var (
	// HTTPRequests counts handled requests by route, method and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests handled.",
	}, []string{"route", "method", "code"})

	// HTTPDuration observes request latency by route and method.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	// AuthOutcomes counts auth operations by operation and result
	// ("ok" or the failure reason).
	AuthOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_operations_total",
		Help:      "Auth operations by outcome.",
	}, []string{"op", "result"})

	// RefreshReuse counts presentations of already-rotated refresh tokens.
	RefreshReuse = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_token_reuse_total",
		Help:      "Revoked refresh tokens presented again.",
	})

	// ExpiredTokensPurged counts rows removed by the refresh token janitor.
	ExpiredTokensPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_tokens_purged_total",
		Help:      "Expired refresh tokens deleted by the janitor.",
	})

	// CacheResults counts response cache lookups by result (hit, miss, bypass).
	CacheResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "response_cache_total",
		Help:      "Response cache lookups.",
	}, []string{"result"})

	// EventsDropped counts auth events discarded because the publish buffer
	// was full.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_dropped_total",
		Help:      "Auth events dropped before reaching the broker.",
	})

	// EventsFailed counts auth events the broker did not accept.
	EventsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "auth_events_failed_total",
		Help:      "Auth events that failed to publish.",
	})

	// RateLimited counts requests rejected by the token bucket.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Requests rejected with 429.",
	})
)
