package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics tracks EventSub deliveries and the per-feature outcomes they produce.
type WebhookMetrics struct {
	Deliveries       *prometheus.CounterVec
	FeatureOutcomes  *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	InFlight         prometheus.Gauge
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	m := &WebhookMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventsub",
			Name:      "deliveries_total",
			Help:      "EventSub webhook deliveries, by message type and result.",
		}, []string{"message_type", "result"}),
		FeatureOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "outcomes_total",
			Help:      "Feature executions, by feature, event type and outcome.",
		}, []string{"feature", "event", "outcome"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "eventsub",
			Name:      "dispatch_duration_seconds",
			Help:      "Time from accepted notification until every feature finished.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "eventsub",
			Name:      "dispatches_in_flight",
			Help:      "Notifications currently being dispatched.",
		}),
	}

	reg.MustRegister(m.Deliveries, m.FeatureOutcomes, m.DispatchDuration, m.InFlight)
	return m
}
