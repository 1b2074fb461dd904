package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldtrack_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coldtrack_http_request_duration_seconds",
		Help:    "Duration of HTTP requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	logTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldtrack_log_transitions_total",
		Help: "Temperature log transitions by kind and result",
	}, []string{"transition", "result"})

	exceptionsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldtrack_exceptions_detected_total",
		Help: "Compliance exceptions surfaced to dashboards by type",
	}, []string{"type"})

	schedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldtrack_scheduler_runs_total",
		Help: "Per-workspace scheduled job executions by job and result",
	}, []string{"job", "result"})

	notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldtrack_notifications_created_total",
		Help: "In-app notifications created by type",
	}, []string{"type"})

	liveBoardEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coldtrack_live_board_entries",
		Help: "Vehicles on the most recently computed live board by status",
	}, []string{"status"})

	expiredAccounts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldtrack_expired_accounts_total",
		Help: "Temporary users and vehicles deactivated on expiry",
	}, []string{"kind"})

	retentionPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coldtrack_retention_purged_logs_total",
		Help: "Temperature logs deleted by retention",
	})
)

// ObserveHTTPRequest records an HTTP request metric
func ObserveHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// ObserveTransition counts a log transition attempt. result is "ok" or an error code.
func ObserveTransition(transition, result string) {
	logTransitions.WithLabelValues(transition, result).Inc()
}

// ObserveExceptions counts detected exceptions by type
func ObserveExceptions(counts map[string]int) {
	for typ, n := range counts {
		exceptionsDetected.WithLabelValues(typ).Add(float64(n))
	}
}

// ObserveSchedulerRun records one per-workspace job execution
func ObserveSchedulerRun(job, result string) {
	schedulerRuns.WithLabelValues(job, result).Inc()
}

// ObserveNotification counts a created notification
func ObserveNotification(typ string) {
	notificationsCreated.WithLabelValues(typ).Inc()
}

// SetLiveBoard sets the live board gauge from the latest computed counts
func SetLiveBoard(active, idle, overdue int) {
	liveBoardEntries.WithLabelValues("active").Set(float64(active))
	liveBoardEntries.WithLabelValues("idle").Set(float64(idle))
	liveBoardEntries.WithLabelValues("overdue").Set(float64(overdue))
}

// ObserveExpired counts a temporary account or asset deactivated on expiry
func ObserveExpired(kind string) {
	expiredAccounts.WithLabelValues(kind).Inc()
}

// ObserveRetention adds purged log rows
func ObserveRetention(deleted int64) {
	if deleted > 0 {
		retentionPurged.Add(float64(deleted))
	}
}
