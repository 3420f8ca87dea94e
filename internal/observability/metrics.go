// Package observability holds the process-wide Prometheus collectors.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishAttempts counts calls to the publish API by outcome (success, error).
	PublishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_publish_attempts_total",
		Help: "Total publish API attempts by outcome",
	}, []string{"outcome"})

	// RateLimitDecisions counts limiter decisions by operation and outcome.
	RateLimitDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_rate_limit_decisions_total",
		Help: "Rate limiter decisions by operation and outcome",
	}, []string{"operation", "outcome"})

	// CounterStoreFallbacks counts failed counter-store links by link name.
	CounterStoreFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_counter_store_fallbacks_total",
		Help: "Counter store links that failed and fell through to the next one",
	}, []string{"link"})

	// SchedulerJobs counts delayed-job operations by kind and outcome.
	SchedulerJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_scheduler_jobs_total",
		Help: "Delayed job operations by kind (create, cancel, fire) and outcome",
	}, []string{"kind", "outcome"})

	// UploadOutcomes counts finished upload tasks.
	UploadOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "postflow_upload_tasks_total",
		Help: "Upload queue tasks by terminal status",
	}, []string{"status"})
)
