package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts executions reaching a terminal state.
	// Labels: process, state (completed, failed, cancelled)
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "execution",
			Name:      "executions_total",
			Help:      "Executions by process and terminal state",
		},
		[]string{"process", "state"},
	)

	// QueuedTotal counts executions accepted onto the queue.
	QueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "execution",
			Name:      "queued_total",
			Help:      "Executions queued by process",
		},
		[]string{"process"},
	)

	// ExecutionDuration tracks process body duration.
	// Labels: process, path (sync, worker)
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "waypoint",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Duration of process execution in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"process", "path"},
	)

	// WorkerPollsTotal counts worker polls.
	WorkerPollsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "worker",
			Name:      "polls_total",
			Help:      "Background worker polls",
		},
	)

	// WorkerPollErrors counts polls whose batch query failed.
	WorkerPollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "worker",
			Name:      "poll_errors_total",
			Help:      "Background worker polls that failed to list pending executions",
		},
	)

	// WorkerItemsTotal counts items handled by the worker.
	// Labels: outcome (completed, failed, skipped)
	WorkerItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "waypoint",
			Subsystem: "worker",
			Name:      "items_total",
			Help:      "Pending executions handled by the background worker, by outcome",
		},
		[]string{"outcome"},
	)

	// WorkerLastBatchSize is the size of the most recent batch.
	WorkerLastBatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "waypoint",
			Subsystem: "worker",
			Name:      "last_batch_size",
			Help:      "Number of pending executions returned by the last poll",
		},
	)
)
