package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpsTotal counts store operations by kind.
	// Labels: op (insert, delete, supersede, search_keyword, search_vector)
	OpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Total store operations by kind",
		},
		[]string{"op"},
	)

	// VectorQueryDuration tracks nearest-neighbor query latency.
	VectorQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "vector_query_duration_seconds",
			Help:      "Duration of vector index queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// IndexErrors counts vector index failures by operation.
	IndexErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "index_errors_total",
			Help:      "Total vector index errors by operation",
		},
		[]string{"op"},
	)
)
