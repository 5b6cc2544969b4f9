package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and
// the roster import pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	importFiles     *prometheus.CounterVec
	importRows      *prometheus.CounterVec
	commits         *prometheus.CounterVec
	commitStudents  prometheus.Counter
	upstreamLatency *prometheus.HistogramVec
	exports         *prometheus.CounterVec
	activeJobs      prometheus.Gauge
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	importFiles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_import_files_total",
		Help: "CSV files processed, by outcome",
	}, []string{"outcome"})

	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_import_rows_total",
		Help: "Rows seen by the importer, by result",
	}, []string{"result"})

	commits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_commits_total",
		Help: "Roster commits sent to the project API",
	}, []string{"mode", "status"})

	commitStudents := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roster_commit_students_total",
		Help: "Students successfully committed to the project API",
	})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "projects_api_duration_seconds",
		Help:    "Latency of project API calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	exports := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roster_exports_total",
		Help: "Roster exports rendered, by format",
	}, []string{"format"})

	activeJobs := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roster_import_jobs_in_flight",
		Help: "Asynchronous file imports accepted but not finished",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, importFiles, importRows, commits, commitStudents, upstreamLatency, exports, activeJobs, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		importFiles:     importFiles,
		importRows:      importRows,
		commits:         commits,
		commitStudents:  commitStudents,
		upstreamLatency: upstreamLatency,
		exports:         exports,
		activeJobs:      activeJobs,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordImport counts one processed file. outcome is "accepted",
// "format_error" or "row_error".
func (m *MetricsService) RecordImport(outcome string, added, duplicates, warnings int) {
	if m == nil {
		return
	}
	m.importFiles.WithLabelValues(outcome).Inc()
	m.importRows.WithLabelValues("added").Add(float64(added))
	m.importRows.WithLabelValues("duplicate").Add(float64(duplicates))
	m.importRows.WithLabelValues("warning").Add(float64(warnings))
}

// RecordCommit counts one commit attempt.
func (m *MetricsService) RecordCommit(mode, status string, students int) {
	if m == nil {
		return
	}
	m.commits.WithLabelValues(mode, status).Inc()
	if students > 0 {
		m.commitStudents.Add(float64(students))
	}
}

// ObserveUpstream records the latency of a project API call.
func (m *MetricsService) ObserveUpstream(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordExport counts a rendered export.
func (m *MetricsService) RecordExport(format string) {
	if m == nil {
		return
	}
	m.exports.WithLabelValues(format).Inc()
}

// JobStarted and JobFinished track in-flight asynchronous imports.
func (m *MetricsService) JobStarted() {
	if m == nil {
		return
	}
	m.activeJobs.Inc()
}

func (m *MetricsService) JobFinished() {
	if m == nil {
		return
	}
	m.activeJobs.Dec()
}
