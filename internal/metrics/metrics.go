// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus collectors for the integration
// reliability layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Coalescer metrics
	coalescedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsync_coalesced_requests_total",
		Help: "Coalescer requests by role",
	}, []string{"coalescer", "role"}) // role=leader|joined|stale

	coalescerInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "calsync_coalescer_in_flight",
		Help: "In-flight coalesced fetches per coalescer",
	}, []string{"coalescer"})

	// Health check metrics
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsync_checks_total",
		Help: "Connection checks by provider and outcome",
	}, []string{"provider", "outcome"}) // outcome=success|failure

	checkDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calsync_check_duration_seconds",
		Help:    "Connection check duration by provider",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider"})

	healthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "calsync_integration_health_status",
		Help: "Integrations by derived health status",
	}, []string{"status"}) // status=healthy|degraded|unhealthy

	deactivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsync_integration_deactivations_total",
		Help: "Integrations deactivated after going unhealthy, by provider",
	}, []string{"provider"})

	// Scheduler metrics
	schedulerPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsync_scheduler_passes_total",
		Help: "Scheduled enumeration passes by trigger",
	}, []string{"trigger"}) // trigger=interval|manual

	jobsEnqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calsync_jobs_enqueued_total",
		Help: "Health-check jobs submitted to the queue",
	})

	// Queue metrics
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "calsync_queue_depth",
		Help: "Jobs currently waiting in the queue",
	}, []string{"queue"})

	queueDropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsync_queue_drops_total",
		Help: "Jobs dropped by the queue, by reason",
	}, []string{"queue", "reason"})

	// Telemetry emitter metrics
	telemetryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calsync_telemetry_events_total",
		Help: "Telemetry events by disposition",
	}, []string{"disposition"}) // disposition=emitted|dropped
)

// RecordCoalescedRequest counts one coalescer request with its role.
func RecordCoalescedRequest(coalescer, role string) {
	coalescedRequestsTotal.WithLabelValues(coalescer, role).Inc()
}

// SetCoalescerInFlight tracks the current in-flight entry count.
func SetCoalescerInFlight(coalescer string, n int) {
	coalescerInFlight.WithLabelValues(coalescer).Set(float64(n))
}

// RecordCheck records a finished connection check.
func RecordCheck(provider string, success bool, elapsed time.Duration) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	checksTotal.WithLabelValues(provider, outcome).Inc()
	checkDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// SetHealthStatusCounts publishes the per-status integration counts.
func SetHealthStatusCounts(healthy, degraded, unhealthy int) {
	healthStatus.WithLabelValues("healthy").Set(float64(healthy))
	healthStatus.WithLabelValues("degraded").Set(float64(degraded))
	healthStatus.WithLabelValues("unhealthy").Set(float64(unhealthy))
}

// RecordDeactivation counts one automatic integration deactivation.
func RecordDeactivation(provider string) {
	deactivationsTotal.WithLabelValues(provider).Inc()
}

// RecordSchedulerPass counts one enumeration pass.
func RecordSchedulerPass(trigger string) {
	schedulerPassesTotal.WithLabelValues(trigger).Inc()
}

// RecordJobEnqueued counts one submitted health-check job.
func RecordJobEnqueued() {
	jobsEnqueuedTotal.Inc()
}

// SetQueueDepth tracks the number of waiting jobs.
func SetQueueDepth(queue string, n int) {
	queueDepth.WithLabelValues(queue).Set(float64(n))
}

// RecordQueueDrop counts a dropped job with a concrete reason.
func RecordQueueDrop(queue, reason string) {
	if reason == "" {
		reason = "unknown"
	}
	queueDropsTotal.WithLabelValues(queue, reason).Inc()
}

// RecordTelemetryEvent counts an emitted or dropped telemetry event.
func RecordTelemetryEvent(dropped bool) {
	disposition := "emitted"
	if dropped {
		disposition = "dropped"
	}
	telemetryEventsTotal.WithLabelValues(disposition).Inc()
}
