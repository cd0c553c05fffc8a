// Package metrics holds the Prometheus instruments for the sync pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	ActivitiesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garmin2dawarich_activities_downloaded_total",
			Help: "Activity files written to local storage and recorded in the ledger",
		},
	)

	ActivitiesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garmin2dawarich_activities_skipped_total",
			Help: "Activities skipped during ingestion",
		},
		[]string{"reason"}, // "excluded", "already_downloaded", "empty_track"
	)

	// Upload
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garmin2dawarich_uploads_total",
			Help: "Upload attempts by outcome",
		},
		[]string{"result"}, // "success", "failed", "missing_file", "unhealthy"
	)

	ProtocolStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garmin2dawarich_protocol_step_failures_total",
			Help: "Failures of the Dawarich import sequence by step",
		},
		[]string{"step"},
	)

	// Health gate
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "garmin2dawarich_health_checks_total",
			Help: "Connection health checks by outcome",
		},
		[]string{"result"}, // "healthy", "unhealthy", "cached"
	)

	RemoteHealthy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "garmin2dawarich_remote_healthy",
			Help: "1 if the last connection health check passed",
		},
	)

	// Sweep
	SweepState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "garmin2dawarich_sweep_state",
			Help: "Background sweep state (0 idle, 1 running, 2 completed, 3 stopped, 4 failed)",
		},
	)

	SweepDaysProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "garmin2dawarich_sweep_days_processed_total",
			Help: "Days completed by background sweeps",
		},
	)
)
