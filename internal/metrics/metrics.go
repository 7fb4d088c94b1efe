// Package metrics exposes Prometheus collectors for chunk retrieval.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes.
const (
	OutcomeReady     = "ready"
	OutcomeRetry     = "retry"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeDiscarded = "discarded"
)

var (
	// ChunkAttempts counts chunk download attempts by outcome.
	ChunkAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfchunk_chunk_attempts_total",
			Help: "Total number of chunk download attempts",
		},
		[]string{"outcome"},
	)
	// ChunkRetries counts retried attempts by failure kind (transport, status, parse).
	ChunkRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfchunk_chunk_retries_total",
			Help: "Total number of chunk retries",
		},
		[]string{"kind"},
	)
	// ChunkDuration is the latency of a successful download+parse attempt.
	ChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sfchunk_chunk_download_seconds",
			Help:    "Chunk download and parse latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
	// ChunkBytes counts payload bytes read from chunk responses.
	ChunkBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sfchunk_chunk_bytes_total",
			Help: "Total number of chunk payload bytes downloaded",
		},
	)
	// RowsParsed counts rows materialized from chunk payloads.
	RowsParsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sfchunk_rows_parsed_total",
			Help: "Total number of rows parsed from chunks",
		},
	)
)
