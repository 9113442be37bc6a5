package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts discovery activity for the /metrics endpoint.
type Metrics struct {
	// AddAttempts counts add-device requests received.
	AddAttempts prometheus.Counter

	// AddOutcomes counts finished add-device requests by outcome:
	// added, tested, queued, duplicate, unreachable, rejected.
	AddOutcomes *prometheus.CounterVec

	// CredentialAttempts counts individual credential probes by version.
	CredentialAttempts *prometheus.CounterVec

	// DeletedRows counts cascade-deleted rows by table.
	DeletedRows *prometheus.CounterVec
}

// NewMetrics registers the discovery metrics on reg. A nil reg uses the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		AddAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "device_registry",
			Name:      "add_attempts_total",
			Help:      "Add-device requests received.",
		}),
		AddOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "device_registry",
			Name:      "add_outcomes_total",
			Help:      "Finished add-device requests by outcome.",
		}, []string{"outcome"}),
		CredentialAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "device_registry",
			Name:      "credential_attempts_total",
			Help:      "Individual SNMP credential probes by version.",
		}, []string{"version"}),
		DeletedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "device_registry",
			Name:      "deleted_rows_total",
			Help:      "Rows removed by device delete cascades, by table.",
		}, []string{"table"}),
	}
	reg.MustRegister(m.AddAttempts, m.AddOutcomes, m.CredentialAttempts, m.DeletedRows)
	return m
}

// NopMetrics returns unregistered counters for tests and embedded use.
func NopMetrics() *Metrics {
	return &Metrics{
		AddAttempts: prometheus.NewCounter(prometheus.CounterOpts{Name: "add_attempts_total"}),
		AddOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "add_outcomes_total"}, []string{"outcome"}),
		CredentialAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_attempts_total"}, []string{"version"}),
		DeletedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "deleted_rows_total"}, []string{"table"}),
	}
}
