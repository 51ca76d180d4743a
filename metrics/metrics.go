package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GateMetrics implements gate.Recorder.
type GateMetrics struct {
	ApprovalsCreatedTotal  prometheus.Counter
	ApprovalsResolvedTotal *prometheus.CounterVec
	ActionsExecutedTotal   *prometheus.CounterVec
	AlertFailuresTotal     prometheus.Counter
}

func NewGateMetrics() *GateMetrics {
	return &GateMetrics{
		ApprovalsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "holdfast_approvals_created_total",
			Help: "Total approval requests filed.",
		}),
		ApprovalsResolvedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "holdfast_approvals_resolved_total",
			Help: "Total terminal transitions, by resulting status.",
		}, []string{"status"}),
		ActionsExecutedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "holdfast_actions_executed_total",
			Help: "Total guarded action invocations, by outcome.",
		}, []string{"outcome"}),
		AlertFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "holdfast_alert_failures_total",
			Help: "Total alerts that failed on every transport.",
		}),
	}
}

func (m *GateMetrics) ApprovalCreated() {
	m.ApprovalsCreatedTotal.Inc()
}

func (m *GateMetrics) ApprovalResolved(status string) {
	m.ApprovalsResolvedTotal.WithLabelValues(status).Inc()
}

func (m *GateMetrics) ActionExecuted(outcome string) {
	m.ActionsExecutedTotal.WithLabelValues(outcome).Inc()
}

func (m *GateMetrics) AlertFailure() {
	m.AlertFailuresTotal.Inc()
}
