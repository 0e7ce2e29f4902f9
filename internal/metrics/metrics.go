package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Snapshot ingestion metrics
	SnapshotsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linewatch_snapshots_fetched_total",
			Help: "Total number of odds snapshots fetched for processing",
		},
	)

	// Movement detection metrics
	MovementsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_movements_detected_total",
			Help: "Total number of line movements detected",
		},
		[]string{"market_type", "status"}, // h2h/spreads/totals, created/duplicate
	)

	MovementsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linewatch_movements_skipped_total",
			Help: "Total number of snapshot pairs below the movement gate",
		},
	)

	// Alert metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"severity", "status"}, // high/medium/low, created/duplicate
	)

	AlertsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_alerts_skipped_total",
			Help: "Total number of alert evaluations that produced no alert",
		},
		[]string{"reason"}, // below_threshold, not_watched, dedup
	)

	// Pipeline run metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"}, // success/error
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linewatch_run_duration_seconds",
			Help:    "Duration of a full pipeline run",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// Database metrics
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_database_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"}, // get/insert/update, success/error
	)

	DatabaseQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linewatch_database_query_duration_seconds",
			Help:    "Duration of database queries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	// Publish metrics
	MovementsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_movements_published_total",
			Help: "Total number of movement events published",
		},
		[]string{"publisher", "status"}, // stream/log, success/error
	)

	// API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linewatch_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method"},
	)

	// System health
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linewatch_health_checks_total",
			Help: "Total number of health check requests",
		},
		[]string{"status"}, // healthy/unhealthy
	)
)

// RecordMovement records a detected movement by market type
func RecordMovement(marketType string, duplicate bool) {
	status := "created"
	if duplicate {
		status = "duplicate"
	}
	MovementsDetected.WithLabelValues(marketType, status).Inc()
}

// RecordAlert records an alert creation attempt
func RecordAlert(severity string, duplicate bool) {
	status := "created"
	if duplicate {
		status = "duplicate"
	}
	AlertsCreated.WithLabelValues(severity, status).Inc()
}

// RecordAlertSkipped records an evaluation that produced no alert
func RecordAlertSkipped(reason string) {
	AlertsSkipped.WithLabelValues(reason).Inc()
}

// RecordRun records the outcome of a pipeline run
func RecordRun(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
}

// RecordDatabaseQuery records database query metrics
func RecordDatabaseQuery(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueries.WithLabelValues(operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordPublish records a movement event publish attempt
func RecordPublish(publisher string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	MovementsPublished.WithLabelValues(publisher, status).Inc()
}

// RecordHTTPRequest records API request metrics
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordHealthCheck records health check status
func RecordHealthCheck(healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	HealthChecks.WithLabelValues(status).Inc()
}
