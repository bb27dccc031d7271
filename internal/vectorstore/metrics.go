package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationDuration tracks Store operation latency.
	// Labels: operation (store, search, delete_segment), backend
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "waypoint",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	// OperationsTotal counts Store operations.
	// Labels: operation, result (success, error, duplicate)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"operation", "result"},
	)

	// OrphanedMatches counts backend hits with no index metadata row.
	OrphanedMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "vectorstore",
			Name:      "orphaned_matches_total",
			Help:      "Backend matches dropped because their index metadata was missing",
		},
	)

	// CompensationsTotal counts index rows rolled back after a backend write failed.
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "vectorstore",
			Name:      "compensations_total",
			Help:      "Index metadata rows removed after a failed backend write",
		},
		[]string{"result"},
	)
)
