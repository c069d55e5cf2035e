// Package metrics provides Prometheus metrics for the lead import service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsTotal tracks accepted uploads by file format
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmimport",
			Subsystem: "upload",
			Name:      "files_total",
			Help:      "Total number of uploaded files by format",
		},
		[]string{"format"},
	)

	// UploadRows tracks the number of data rows per upload
	UploadRows = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crmimport",
			Subsystem: "upload",
			Name:      "rows",
			Help:      "Number of data rows per uploaded file",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 7),
		},
	)

	// SessionsFinishedTotal tracks sessions reaching a terminal status
	SessionsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmimport",
			Subsystem: "session",
			Name:      "finished_total",
			Help:      "Total number of import sessions by terminal status and reason",
		},
		[]string{"status", "reason"},
	)

	// RowsProcessedTotal tracks executed rows by outcome
	RowsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmimport",
			Subsystem: "execution",
			Name:      "rows_total",
			Help:      "Total number of executed import rows by outcome",
		},
		[]string{"outcome"},
	)

	// ExecutionDuration tracks execution duration in seconds
	ExecutionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "crmimport",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Duration of import executions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 900},
		},
	)

	// ExecutionsInFlight tracks executions currently running in this process
	ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "crmimport",
			Subsystem: "execution",
			Name:      "in_flight",
			Help:      "Number of import executions currently running",
		},
	)

	// DuplicatesFoundTotal tracks duplicate report entries by kind
	DuplicatesFoundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmimport",
			Subsystem: "dedupe",
			Name:      "matches_total",
			Help:      "Total number of reported duplicates by kind",
		},
		[]string{"kind"},
	)

	// EventsPublishedTotal tracks status events by publish result
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmimport",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Total number of session status events by result",
		},
		[]string{"result"},
	)

	// HTTPRequestsTotal tracks inbound HTTP requests
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crmimport",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of inbound HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	// HTTPRequestDuration tracks inbound HTTP request duration
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crmimport",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of inbound HTTP requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)
