// Package metrics holds the prometheus collectors for the job subsystem.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	JobsSubmitted      *prometheus.CounterVec
	Executions         *prometheus.CounterVec
	ExecutionsInFlight prometheus.Gauge
	RecoveryCycles     *prometheus.CounterVec
	RecoveryRequeued   prometheus.Counter
	LeaseRenewals      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starjobs_jobs_submitted_total",
				Help: "Total number of jobs submitted",
			},
			[]string{"kind"},
		),
		Executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starjobs_executions_total",
				Help: "Job execution attempts by outcome",
			},
			[]string{"result"},
		),
		ExecutionsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "starjobs_executions_in_flight",
				Help: "Number of job executions currently holding a worker slot",
			},
		),
		RecoveryCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starjobs_recovery_cycles_total",
				Help: "Recovery sweeps by outcome (swept, skipped, failed)",
			},
			[]string{"outcome"},
		),
		RecoveryRequeued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "starjobs_recovery_requeued_total",
				Help: "Jobs republished by the recovery sweep",
			},
		),
		LeaseRenewals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "starjobs_lease_renewals_total",
				Help: "Job lease renewal attempts by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(
		m.JobsSubmitted,
		m.Executions,
		m.ExecutionsInFlight,
		m.RecoveryCycles,
		m.RecoveryRequeued,
		m.LeaseRenewals,
	)
	return m
}

func (m *Metrics) Submitted(kind string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(kind).Inc()
}

func (m *Metrics) Executed(result string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(result).Inc()
}

// Track marks an execution as started and returns the func that marks it
// finished.
func (m *Metrics) Track() func() {
	if m == nil {
		return func() {}
	}
	m.ExecutionsInFlight.Inc()
	return m.ExecutionsInFlight.Dec
}

func (m *Metrics) RecoveryCycle(outcome string, requeued int) {
	if m == nil {
		return
	}
	m.RecoveryCycles.WithLabelValues(outcome).Inc()
	m.RecoveryRequeued.Add(float64(requeued))
}

func (m *Metrics) LeaseRenewed(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.LeaseRenewals.WithLabelValues("failed").Inc()
		return
	}
	m.LeaseRenewals.WithLabelValues("ok").Inc()
}
