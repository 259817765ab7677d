// Package metrics exposes the Prometheus collectors shared by the HTTP
// server and the data-layer client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "heliomap"

var (
	// HTTPRequests counts served requests by method, route and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPDuration tracks request latency per route.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	// LayerFetches counts provider payload downloads.
	LayerFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "layer_fetches_total",
		Help:      "Payload fetches against the data provider by layer and outcome.",
	}, []string{"layer", "outcome"})

	// CacheLookups counts disk cache hits and misses for provider payloads.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "cache_lookups_total",
		Help:      "Disk cache lookups for provider payloads.",
	}, []string{"result"})

	// Composites counts rendered overlay exports by format.
	Composites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "overlay",
		Name:      "composites_total",
		Help:      "Rendered overlay composites by output format.",
	}, []string{"format"})
)
