// Package metrics exposes the narrow Prometheus surface the core needs.
//
// The core treats metrics wiring as an external collaborator (see spec
// §1): it publishes a handful of gauges/counters that a caller can scrape,
// but it does not own a /metrics HTTP handler or push pipeline itself.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveStreams is a gauge for turns currently streaming. Nothing in
	// this module sets it; GET /chat/status reports Fabric.ActiveCount.
	ActiveStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatcore_active_streams",
		Help: "Number of chat streams currently open.",
	})

	StreamsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_streams_started_total",
		Help: "Total chat streams started, by agent type.",
	}, []string{"agent_type"})

	StreamsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_streams_completed_total",
		Help: "Total chat streams completed, by outcome (done|error).",
	}, []string{"outcome"})

	StreamAborts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_stream_aborts_total",
		Help: "Total number of stream abort requests accepted.",
	})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatcore_llm_request_duration_seconds",
		Help:    "LLM token source call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "op"})

	RepositoryConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_repository_etag_conflicts_total",
		Help: "Total optimistic-concurrency conflicts observed by the chat repository.",
	})
)
