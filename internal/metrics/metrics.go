package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Admission outcomes recorded per enrollment attempt.
const (
	OutcomeAdmitted     = "admitted"
	OutcomeDuplicate    = "duplicate"
	OutcomeFull         = "capacity_exceeded"
	OutcomeIneligible   = "ineligible"
	OutcomeError        = "error"
	OutcomeCancelled    = "cancelled"
	OutcomeCancelDenied = "cancel_denied"
)

// Registry bundles the Prometheus collectors exposed on /metrics.
type Registry struct {
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
	EnrollmentAttempts *prometheus.CounterVec
	ExportJobs         *prometheus.CounterVec
}

// NewRegistry registers all collectors on the default registerer.
func NewRegistry() *Registry {
	return &Registry{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lms",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		EnrollmentAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "enrollment",
			Name:      "attempts_total",
			Help:      "Enrollment admission attempts by outcome.",
		}, []string{"outcome"}),
		ExportJobs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lms",
			Subsystem: "export",
			Name:      "jobs_total",
			Help:      "Roster export jobs by terminal status.",
		}, []string{"status"}),
	}
}

// ObserveAdmission records one enrollment admission outcome.
func (r *Registry) ObserveAdmission(outcome string) {
	if r == nil {
		return
	}
	r.EnrollmentAttempts.WithLabelValues(outcome).Inc()
}

// ObserveExport records one export job terminal status.
func (r *Registry) ObserveExport(status string) {
	if r == nil {
		return
	}
	r.ExportJobs.WithLabelValues(status).Inc()
}
