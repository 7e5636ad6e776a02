package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	reportsProcessed  *prometheus.CounterVec
	reportDuration    prometheus.Histogram
	notificationsSent *prometheus.CounterVec
	schedulerRuns     *prometheus.CounterVec
	storageOps        *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reportsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reports_processed_total",
			Help: "Processed reports by final status.",
		}, []string{"report_type", "status"}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "report_process_seconds",
			Help:    "Time spent generating reports.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "report_notifications_total",
			Help: "Report-ready notifications by delivery status.",
		}, []string{"status"}),
		schedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_runs_total",
			Help: "Scheduler executions by outcome.",
		}, []string{"status"}),
		storageOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "report_storage_operation_seconds",
			Help:    "Report file storage calls by operation and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	m.registry.MustRegister(
		m.reportsProcessed,
		m.reportDuration,
		m.notificationsSent,
		m.schedulerRuns,
		m.storageOps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ReportProcessed(reportType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.reportsProcessed.WithLabelValues(reportType, status).Inc()
	m.reportDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) NotificationSent(status string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(status).Inc()
}

func (m *Metrics) SchedulerRun(status string) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) StorageOperation(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.storageOps.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}
