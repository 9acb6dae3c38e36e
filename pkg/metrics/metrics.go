// Package metrics provides Prometheus metrics for the fern pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MergeRecordsTotal tracks converted records by table and outcome (inserted, updated, unchanged)
	MergeRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "records_total",
			Help:      "Total number of converted records by table and outcome",
		},
		[]string{"table", "outcome"},
	)

	// ConverterFlushDuration tracks the duration of one converter flush
	ConverterFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "converter_flush_duration_seconds",
			Help:      "Duration of converter flushes in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"converter", "table"},
	)

	// MergeFailuresTotal tracks failed converter cycles
	MergeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "merge",
			Name:      "failures_total",
			Help:      "Total number of converter cycles rolled back",
		},
		[]string{"converter", "table"},
	)

	// CopiedRowsTotal tracks rows written by the bulk copier
	CopiedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "copy",
			Name:      "rows_total",
			Help:      "Total number of rows written by the bulk copier",
		},
		[]string{"table"},
	)

	// PageRetriesTotal tracks page reads or writes retried at a smaller size
	PageRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "copy",
			Name:      "page_retries_total",
			Help:      "Total number of page retries by collection",
		},
		[]string{"collection"},
	)

	// MeltedRowsTotal tracks fact rows emitted by the matrix melter
	MeltedRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "melt",
			Name:      "rows_total",
			Help:      "Total number of melted fact rows",
		},
		[]string{"table"},
	)

	// MeltFailuresTotal tracks documents whose melt failed
	MeltFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "melt",
			Name:      "failures_total",
			Help:      "Total number of documents whose melt failed",
		},
		[]string{"collection"},
	)

	// IdentifierParseFailures tracks malformed cross-reference keys
	IdentifierParseFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "identity",
			Name:      "parse_failures_total",
			Help:      "Total number of malformed cross-reference identifiers",
		},
	)

	// RunDuration tracks full migration run duration
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of migration runs in seconds",
			Buckets:   []float64{1, 5, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"status"},
	)

	// IngestMessagesTotal tracks live-ingestion messages by status
	IngestMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Total number of ingestion messages by status",
		},
		[]string{"status"},
	)

	// IngestBatchesInFlight tracks batches currently being flushed
	IngestBatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fern",
			Subsystem: "ingest",
			Name:      "batches_in_flight",
			Help:      "Number of ingestion batches currently being flushed",
		},
	)
)
