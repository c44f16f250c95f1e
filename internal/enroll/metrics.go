package enroll

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mask_enroller"

const (
	outcomeDisabled = "disabled"
	outcomePresent  = "present"
	outcomeInjected = "injected"
	outcomeError    = "error"
)

// Metrics counts what the hook decided for each build.
type Metrics struct {
	checks *prometheus.CounterVec
}

// DefaultMetrics is registered with the default prometheus registry.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates the hook's counters and registers them with reg, if reg
// isn't nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "enroll",
			Name:      "checks_total",
			Help:      "Count of builds checked for mask-passwords enrollment, by outcome",
		}, []string{"outcome"}),
	}
	for _, o := range []string{outcomeDisabled, outcomePresent, outcomeInjected, outcomeError} {
		m.checks.WithLabelValues(o)
	}
	if reg != nil {
		reg.MustRegister(m.checks)
	}
	return m
}

func (m *Metrics) observe(outcome string) {
	m.checks.WithLabelValues(outcome).Inc()
}
