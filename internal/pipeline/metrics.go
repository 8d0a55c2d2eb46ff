package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsDispatched counts embedding jobs handed to a dispatcher.
	JobsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "pipeline",
			Name:      "jobs_dispatched_total",
			Help:      "Total embedding jobs handed to the dispatcher",
		},
	)

	// RetriesTotal counts rescheduled embedding attempts.
	RetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "pipeline",
			Name:      "retries_total",
			Help:      "Total embedding attempts rescheduled after a retryable failure",
		},
	)
)
