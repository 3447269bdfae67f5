package metrics

import (
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
)

// UpstreamMetrics tracks calls to external services (twitch, twitter, render, storage, discord).
type UpstreamMetrics struct {
	Requests            *prometheus.CounterVec
	Duration            *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec
}

func NewUpstreamMetrics(reg prometheus.Registerer) *UpstreamMetrics {
	m := &UpstreamMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Calls to external services, by service, operation and result.",
		}, []string{"service", "operation", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of calls to external services.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"service", "operation"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"service"}),
	}

	reg.MustRegister(m.Requests, m.Duration, m.CircuitBreakerState)
	return m
}

// Observe records one call. It is safe to call on a nil receiver.
func (m *UpstreamMetrics) Observe(service, operation string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.Requests.WithLabelValues(service, operation, result).Inc()
	m.Duration.WithLabelValues(service, operation).Observe(time.Since(start).Seconds())
}

// ObserveBreaker records a circuit breaker transition. It is safe to call on a nil receiver.
func (m *UpstreamMetrics) ObserveBreaker(service string, state circuitbreaker.State) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(service).Set(breakerStateValue(state))
}

func breakerStateValue(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}
