package lifecycle

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/alertbot/internal/alert"
)

// Metrics holds Prometheus metrics for the lifecycle engine.
type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	TransitionsTotal   *prometheus.CounterVec
	GatewayErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns lifecycle metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertbot_events_total",
			Help: "Inbound alert and reaction events by source and outcome.",
		}, []string{"source", "outcome"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertbot_transitions_total",
			Help: "Alert status transitions.",
		}, []string{"from", "to"}),
		GatewayErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertbot_gateway_errors_total",
			Help: "Failed chat gateway calls by operation and kind.",
		}, []string{"op", "kind"}),
	}

	reg.MustRegister(
		m.EventsTotal,
		m.TransitionsTotal,
		m.GatewayErrorsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnOutcome: func(source string, o Outcome) {
			m.EventsTotal.WithLabelValues(source, string(o)).Inc()
		},
		OnTransition: func(from, to alert.Status) {
			if from == "" {
				from = "absent"
			}
			m.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		},
		OnGatewayError: func(op string, err error) {
			m.GatewayErrorsTotal.WithLabelValues(op, errorKind(err)).Inc()
		},
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrMessageNotFound):
		return "not_found"
	default:
		return "other"
	}
}
