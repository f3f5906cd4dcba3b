package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	TransitionsApplied     = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_transitions_applied_total", Help: "Status transitions applied"})
	TransitionsRejected    = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_transitions_rejected_total", Help: "Status transitions rejected by validation"})
	CAPAsGenerated         = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_capas_generated_total", Help: "CAPAs generated from source records"})
	ActivityAppendFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_activity_append_failures_total", Help: "Audit trail appends that failed"})
	OverdueFlagged         = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_overdue_flagged_total", Help: "CAPAs flagged overdue by the sweep"})
	DeadlineWarnings       = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_deadline_warnings_total", Help: "Deadline warnings emitted"})
	ReviewsDue             = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_effectiveness_reviews_due_total", Help: "Effectiveness reviews flagged as due"})
	SweepItemFailures      = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_sweep_item_failures_total", Help: "Individual record failures inside sweeps"})
	EvidenceUploads        = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_evidence_uploads_total", Help: "Complaint evidence files stored"})
	RateLimitRejects       = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_rate_limit_rejects_total", Help: "Requests rejected by the actor rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsApplied,
			TransitionsRejected,
			CAPAsGenerated,
			ActivityAppendFailures,
			OverdueFlagged,
			DeadlineWarnings,
			ReviewsDue,
			SweepItemFailures,
			EvidenceUploads,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
