package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sessec"

// Metrics holds the domain counters exported on /metrics.
type Metrics struct {
	alerts      *prometheus.CounterVec
	escalations prometheus.Counter
	validations *prometheus.CounterVec
}

// NewMetrics registers the monitor and session collectors with reg (DefaultRegisterer when nil).
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Security alerts raised by the admin monitor partitioned by type and severity.",
	}, []string{"type", "severity"})
	if err := registerCollector(reg, alerts, &alerts); err != nil {
		return nil, fmt.Errorf("register alerts collector: %w", err)
	}

	escalations := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "escalations_total",
		Help:      "Critical alerts escalated by the admin monitor.",
	})
	if err := registerCollector(reg, escalations, &escalations); err != nil {
		return nil, fmt.Errorf("register escalations collector: %w", err)
	}

	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "validations_total",
		Help:      "Session validations partitioned by result.",
	}, []string{"result"})
	if err := registerCollector(reg, validations, &validations); err != nil {
		return nil, fmt.Errorf("register validations collector: %w", err)
	}

	return &Metrics{
		alerts:      alerts,
		escalations: escalations,
		validations: validations,
	}, nil
}

// registerCollector registers c and, when an identical collector already exists, points target at it.
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T, target *T) error {
	if err := reg.Register(c); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		existing, ok := already.ExistingCollector.(T)
		if !ok {
			return fmt.Errorf("existing collector has wrong type %T", already.ExistingCollector)
		}
		*target = existing
	}
	return nil
}

// AlertRaised counts one alert.
func (m *Metrics) AlertRaised(alertType, severity string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(alertType, severity).Inc()
}

// AlertEscalated counts one escalation.
func (m *Metrics) AlertEscalated() {
	if m == nil {
		return
	}
	m.escalations.Inc()
}

// SessionValidated counts one validation outcome ("valid", "invalid", "not_found", "expired").
func (m *Metrics) SessionValidated(result string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(result).Inc()
}
