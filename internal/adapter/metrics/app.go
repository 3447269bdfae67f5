package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReconcileMetrics counts EventSub reconciliation work.
type ReconcileMetrics struct {
	Runs          *prometheus.CounterVec
	Subscriptions *prometheus.CounterVec
}

func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	m := &ReconcileMetrics{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "EventSub reconciliations, by result.",
		}, []string{"result"}),
		Subscriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconcile",
			Name:      "subscription_changes_total",
			Help:      "EventSub subscriptions created or deleted, by action and result.",
		}, []string{"action", "result"}),
	}

	reg.MustRegister(m.Runs, m.Subscriptions)
	return m
}

// ObserveRun is safe to call on a nil receiver.
func (m *ReconcileMetrics) ObserveRun(err error) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveChange is safe to call on a nil receiver.
func (m *ReconcileMetrics) ObserveChange(action string, err error) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(action, resultLabel(err)).Inc()
}

// SchedulerMetrics counts periodic banner refreshes.
type SchedulerMetrics struct {
	Refreshes *prometheus.CounterVec
}

func NewSchedulerMetrics(reg prometheus.Registerer) *SchedulerMetrics {
	m := &SchedulerMetrics{
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "banner_refreshes_total",
			Help:      "Scheduled banner refreshes, by plan and outcome.",
		}, []string{"plan", "outcome"}),
	}

	reg.MustRegister(m.Refreshes)
	return m
}

// ObserveRefresh is safe to call on a nil receiver.
func (m *SchedulerMetrics) ObserveRefresh(plan, outcome string) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(plan, outcome).Inc()
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
