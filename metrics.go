package pinsql

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts statements, bind warnings and batch outcomes. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	statements   *prometheus.CounterVec
	bindWarnings prometheus.Counter
	batches      *prometheus.CounterVec
}

// NewMetrics creates the collectors under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Statements executed, by statement class and outcome",
			},
			[]string{"class", "outcome"},
		),
		bindWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bind_warnings_total",
				Help:      "Parameters that could not be bound",
			},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Transaction batches, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// MustRegister will register all metrics on the given registry.
func (m *Metrics) MustRegister(registry prometheus.Registerer) {
	registry.MustRegister(m.statements, m.bindWarnings, m.batches)
}

func (m *Metrics) observeStatement(class, outcome string) {
	if m == nil {
		return
	}
	m.statements.With(prometheus.Labels{"class": class, "outcome": outcome}).Inc()
}

func (m *Metrics) observeBindWarning() {
	if m == nil {
		return
	}
	m.bindWarnings.Inc()
}

func (m *Metrics) observeBatch(outcome string) {
	if m == nil {
		return
	}
	m.batches.With(prometheus.Labels{"outcome": outcome}).Inc()
}
