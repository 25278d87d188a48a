// Package metrics declares the Prometheus instruments shared across the knowledge base.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// IndexRuns counts index runs by mode (full, incremental) and result
	IndexRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codekb_index_runs_total",
		Help: "Index runs by mode and result",
	}, []string{"mode", "result"})

	// IndexDuration tracks index run latency
	IndexDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "codekb_index_duration_seconds",
		Help:    "Index run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
	}, []string{"mode"})

	// IndexedFiles counts files processed by status (ok, parse_error, removed)
	IndexedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codekb_indexed_files_total",
		Help: "Files processed by the indexer by status",
	}, []string{"status"})

	// GraphNodes reports the current node count per kind
	GraphNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "codekb_graph_nodes",
		Help: "Code graph nodes by kind",
	}, []string{"kind"})

	// EmbeddedSymbols counts symbols by embedding outcome (embedded, skipped, error)
	EmbeddedSymbols = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codekb_embedded_symbols_total",
		Help: "Symbols handled by the embedding pipeline by outcome",
	}, []string{"outcome"})

	// EmbedBatchDuration tracks provider batch latency including retries
	EmbedBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codekb_embed_batch_duration_seconds",
		Help:    "Embedding batch duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	// SearchRequests counts searches by path taken (vector, keyword, cache)
	SearchRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codekb_search_requests_total",
		Help: "Searches by path taken",
	}, []string{"path"})

	// SearchDuration tracks search latency
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codekb_search_duration_seconds",
		Help:    "Search duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// WatcherEvents counts dispatched file events by operation (update, remove, full_index)
	WatcherEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codekb_watcher_events_total",
		Help: "File watcher dispatches by operation",
	}, []string{"op"})

	// StartupDecisions counts startup decisions by reason
	StartupDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "codekb_startup_decisions_total",
		Help: "Startup decisions by reason",
	}, []string{"reason"})

	// ContextTokens tracks the estimated size of built context bundles
	ContextTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "codekb_context_tokens",
		Help:    "Estimated tokens per context bundle",
		Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000},
	})
)

// Handler serves the default registry in the Prometheus text format
func Handler() http.Handler {
	return promhttp.Handler()
}
