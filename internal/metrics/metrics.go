// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// processDuration tracks external command latency by binary and result.
	processDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sid_process_duration_seconds",
		Help:    "External command duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7m
	}, []string{"command", "result"})

	// pipelineRuns counts pipeline runs by trigger and result.
	pipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sid_pipeline_runs_total",
		Help: "Total pipeline runs by kind and result",
	}, []string{"kind", "result"})

	// deployments counts per-directory deployment outcomes.
	deployments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sid_deployments_total",
		Help: "Total stack deployments by result",
	}, []string{"result"})

	// mirrorRefreshes counts clone and pull operations.
	mirrorRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sid_mirror_refresh_total",
		Help: "Total mirror refreshes by mode and result",
	}, []string{"mode", "result"})

	// eventWriteFailures counts events that could not be persisted.
	eventWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sid_event_write_failures_total",
		Help: "Events dropped because the store rejected them",
	})

	// notificationsDropped counts notifications that were never delivered.
	notificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sid_notifications_dropped_total",
		Help: "Notifications dropped by reason",
	}, []string{"reason"})
)

// ObserveProcess records one external command.
func ObserveProcess(command, result string, d time.Duration) {
	processDuration.WithLabelValues(command, result).Observe(d.Seconds())
}

// PipelineRun records a finished pipeline run.
func PipelineRun(kind string, err error) {
	pipelineRuns.WithLabelValues(kind, result(err)).Inc()
}

// Deployment records one directory's outcome.
func Deployment(err error) {
	deployments.WithLabelValues(result(err)).Inc()
}

// MirrorRefresh records a clone ("clone") or update ("pull").
func MirrorRefresh(mode string, err error) {
	mirrorRefreshes.WithLabelValues(mode, result(err)).Inc()
}

// EventWriteFailed records a swallowed event write error.
func EventWriteFailed() {
	eventWriteFailures.Inc()
}

// NotificationDropped records an undelivered notification.
func NotificationDropped(reason string) {
	notificationsDropped.WithLabelValues(reason).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
