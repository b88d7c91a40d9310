// Package metrics provides Prometheus instrumentation for the engines.
//
// A nil *Metrics is valid and records nothing, so engines built without a
// registry (CLI commands, most tests) need no special casing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "contract_engine"

type Metrics struct {
	// TransitionsTotal counts committed state transitions.
	// Labels: entity, to
	TransitionsTotal *prometheus.CounterVec

	// FailuresTotal counts rejected operations by error kind.
	// Labels: entity, kind
	FailuresTotal *prometheus.CounterVec

	// TxRetriesTotal counts transactions retried after a concurrent modification.
	TxRetriesTotal prometheus.Counter

	// LedgerDeltasTotal counts change order deltas applied to contract values.
	// Labels: currency
	LedgerDeltasTotal *prometheus.CounterVec

	// OverpaymentsTotal counts payments flagged as exceeding the certificate.
	OverpaymentsTotal prometheus.Counter

	// AuditDroppedTotal counts audit events that could not be queued or written.
	// Labels: reason
	AuditDroppedTotal *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransitionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Committed state transitions by entity and target state",
		}, []string{"entity", "to"}),
		FailuresTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Rejected operations by entity and error kind",
		}, []string{"entity", "kind"}),
		TxRetriesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_retries_total",
			Help:      "Transactions retried after a concurrent modification",
		}),
		LedgerDeltasTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_deltas_total",
			Help:      "Change order deltas applied to contract values",
		}, []string{"currency"}),
		OverpaymentsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overpayments_total",
			Help:      "Actual payments flagged as exceeding the certificate amount payable",
		}),
		AuditDroppedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_dropped_total",
			Help:      "Audit events dropped by reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) Transition(entity, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(entity, to).Inc()
}

func (m *Metrics) Failure(entity, kind string) {
	if m == nil {
		return
	}
	m.FailuresTotal.WithLabelValues(entity, kind).Inc()
}

func (m *Metrics) TxRetry() {
	if m == nil {
		return
	}
	m.TxRetriesTotal.Inc()
}

func (m *Metrics) LedgerDelta(currency string) {
	if m == nil {
		return
	}
	m.LedgerDeltasTotal.WithLabelValues(currency).Inc()
}

func (m *Metrics) Overpayment() {
	if m == nil {
		return
	}
	m.OverpaymentsTotal.Inc()
}

func (m *Metrics) AuditDropped(reason string) {
	if m == nil {
		return
	}
	m.AuditDroppedTotal.WithLabelValues(reason).Inc()
}
