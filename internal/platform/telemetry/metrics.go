// Package telemetry exposes Prometheus counters for the sync engine.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsStarted counts claimed sync jobs by job type.
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehrsync_jobs_started_total",
			Help: "Number of sync jobs claimed for execution",
		},
		[]string{"type"},
	)

	// JobsCompleted counts finished sync jobs by job type and outcome.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehrsync_jobs_completed_total",
			Help: "Number of sync jobs reaching a terminal or retryable state",
		},
		[]string{"type", "status"},
	)

	// JobRetries counts scheduled retry attempts.
	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ehrsync_job_retries_total",
			Help: "Number of sync job retries scheduled",
		},
	)

	// ResourcesProcessed counts reconciled resources by type and result.
	ResourcesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehrsync_resources_processed_total",
			Help: "Number of resources fetched and reconciled",
		},
		[]string{"resource_type", "result"},
	)

	// ConflictsDetected counts detected conflicts by severity.
	ConflictsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehrsync_conflicts_detected_total",
			Help: "Number of field-level conflicts detected",
		},
		[]string{"severity"},
	)

	// ConflictsResolved counts resolutions by strategy and resolver.
	ConflictsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehrsync_conflicts_resolved_total",
			Help: "Number of conflicts resolved",
		},
		[]string{"strategy", "resolved_by"},
	)

	// CacheHits counts resource cache hits and misses.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ehrsync_cache_requests_total",
			Help: "Number of resource cache lookups",
		},
		[]string{"result"},
	)

	// ActiveJobs tracks jobs currently held by workers.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ehrsync_active_jobs",
			Help: "Number of sync jobs currently executing",
		},
	)
)
