// Package metrics defines the Prometheus collectors for deployment runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the deployer's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	stage            prometheus.Gauge
	stageTransitions *prometheus.CounterVec
	transactions     *prometheus.CounterVec
	pollAttempts     prometheus.Counter
	readErrors       prometheus.Counter
	registrations    *prometheus.CounterVec
	pending          prometheus.Gauge
	runs             *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		stage: f.NewGauge(prometheus.GaugeOpts{
			Name: "hashstrat_deployer_stage",
			Help: "Index of the current deployment stage",
		}),
		stageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hashstrat_deployer_stage_transitions_total",
			Help: "Completed stage transitions by stage",
		}, []string{"stage"}),
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hashstrat_deployer_transactions_total",
			Help: "Confirmed transactions by contract and method",
		}, []string{"contract", "method"}),
		pollAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "hashstrat_deployer_poll_attempts_total",
			Help: "Registered LP token set reads performed by confirmation loops",
		}),
		readErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "hashstrat_deployer_poll_read_errors_total",
			Help: "Failed reads of the registered LP token set",
		}),
		registrations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hashstrat_deployer_registrations_total",
			Help: "LP token registrations by outcome",
		}, []string{"result"}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "hashstrat_deployer_registrations_pending",
			Help: "Confirmation loops still running",
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hashstrat_deployer_runs_total",
			Help: "Finished deployment runs by result",
		}, []string{"result"}),
	}
}

// SetStage records a transition into the stage at index.
func (m *Metrics) SetStage(name string, index int) {
	if m == nil {
		return
	}
	m.stage.Set(float64(index))
	m.stageTransitions.WithLabelValues(name).Inc()
}

// TransactionConfirmed counts a mined transaction. Method is empty for
// contract creations.
func (m *Metrics) TransactionConfirmed(contract, method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "constructor"
	}
	m.transactions.WithLabelValues(contract, method).Inc()
}

// PollAttempt counts one read of the registered set.
func (m *Metrics) PollAttempt() {
	if m == nil {
		return
	}
	m.pollAttempts.Inc()
}

// ReadError counts one failed read of the registered set.
func (m *Metrics) ReadError() {
	if m == nil {
		return
	}
	m.readErrors.Inc()
}

// RegistrationStarted marks a confirmation loop as running.
func (m *Metrics) RegistrationStarted() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

// RegistrationFinished records the outcome of a confirmation loop.
func (m *Metrics) RegistrationFinished(result string) {
	if m == nil {
		return
	}
	m.pending.Dec()
	m.registrations.WithLabelValues(result).Inc()
}

// RunFinished counts a run that completed or failed.
func (m *Metrics) RunFinished(result string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
}
