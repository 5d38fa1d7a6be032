// Package metrics exposes Prometheus collectors for the pool and the engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the runtime core. A nil
// *Metrics is valid everywhere and records nothing, so components can take
// the handle without caring whether metrics are enabled.
type Metrics struct {
	// Pool metrics
	PoolAvailable     prometheus.Gauge
	PoolInUse         prometheus.Gauge
	PoolOverflow      prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed *prometheus.CounterVec

	// Engine metrics
	RunsActive   prometheus.Gauge
	RunsTotal    *prometheus.CounterVec
	StepsTotal   *prometheus.CounterVec
	StepRetries  prometheus.Counter
	StepDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PoolAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_pool_available",
			Help: "Sessions currently idle in the pool",
		}),
		PoolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_pool_in_use",
			Help: "Pooled sessions currently checked out",
		}),
		PoolOverflow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_pool_overflow",
			Help: "Live overflow sessions beyond pool capacity",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pilot_sessions_created_total",
			Help: "Browser sessions created since start",
		}),
		SessionsDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilot_sessions_destroyed_total",
			Help: "Browser sessions destroyed since start",
		}, []string{"reason"}),
		RunsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pilot_runs_active",
			Help: "Execution runs currently in flight",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilot_runs_total",
			Help: "Execution runs finished, by terminal status",
		}, []string{"status"}),
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilot_steps_total",
			Help: "Plan steps finished, by result",
		}, []string{"result"}),
		StepRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pilot_step_retries_total",
			Help: "Retry attempts across all steps",
		}),
		StepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pilot_step_duration_seconds",
			Help:    "Wall-clock duration of a completed step",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	reg.MustRegister(
		m.PoolAvailable,
		m.PoolInUse,
		m.PoolOverflow,
		m.SessionsCreated,
		m.SessionsDestroyed,
		m.RunsActive,
		m.RunsTotal,
		m.StepsTotal,
		m.StepRetries,
		m.StepDuration,
	)
	return m
}

// Session destruction reasons used with SessionsDestroyed.
const (
	ReasonAged     = "aged"
	ReasonOverused = "overused"
	ReasonMemory   = "memory"
	ReasonCleanup  = "cleanup_failed"
	ReasonLeaked   = "leaked"
	ReasonOverflow = "overflow"
	ReasonShutdown = "shutdown"
)

// PoolGauges updates the three pool occupancy gauges in one call.
func (m *Metrics) PoolGauges(available, inUse, overflow int) {
	if m == nil {
		return
	}
	m.PoolAvailable.Set(float64(available))
	m.PoolInUse.Set(float64(inUse))
	m.PoolOverflow.Set(float64(overflow))
}

// SessionCreated records one session creation.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// SessionDestroyed records one session destruction with its reason.
func (m *Metrics) SessionDestroyed(reason string) {
	if m == nil {
		return
	}
	m.SessionsDestroyed.WithLabelValues(reason).Inc()
}

// RunStarted records a run entering flight.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsActive.Inc()
}

// RunFinished records a run reaching the given terminal status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.RunsActive.Dec()
	m.RunsTotal.WithLabelValues(status).Inc()
}

// StepFinished records one completed step with its result and duration.
func (m *Metrics) StepFinished(result string, seconds float64) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(result).Inc()
	m.StepDuration.Observe(seconds)
}

// StepRetried records one retry attempt.
func (m *Metrics) StepRetried() {
	if m == nil {
		return
	}
	m.StepRetries.Inc()
}
