package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"datawrangler/internal/domain"
)

// Metrics records orchestrator activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	stepDuration      *prometheus.HistogramVec
	transitions       *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	recoveries        *prometheus.CounterVec
	runs              *prometheus.CounterVec
}

// NewMetrics creates the orchestrator collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wrangler",
			Name:      "step_duration_seconds",
			Help:      "Duration of pipeline steps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wrangler",
			Name:      "state_transitions_total",
			Help:      "Persisted pipeline state transitions.",
		}, []string{"from", "to"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wrangler",
			Name:      "transformation_executions_total",
			Help:      "Transformation executions by type and outcome.",
		}, []string{"type", "outcome"}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wrangler",
			Name:      "transformation_duration_seconds",
			Help:      "Duration of single transformation executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wrangler",
			Name:      "failure_recoveries_total",
			Help:      "Failure strategies applied, by step and strategy.",
		}, []string{"step", "strategy"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wrangler",
			Name:      "runs_total",
			Help:      "Finished runs by terminal status.",
		}, []string{"status"}),
	}
	if reg != nil {
		reg.MustRegister(m.stepDuration, m.transitions, m.executions,
			m.executionDuration, m.recoveries, m.runs)
	}
	return m
}

func (m *Metrics) observeStep(step domain.PipelineStep, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(string(step)).Observe(d.Seconds())
}

func (m *Metrics) transition(from, to domain.PipelineStep) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) execution(res domain.TransformationResult) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case res.TimedOut:
		outcome = "timeout"
	case !res.Success:
		outcome = "failure"
	}
	typ := string(res.Transformation.Type)
	m.executions.WithLabelValues(typ, outcome).Inc()
	m.executionDuration.WithLabelValues(typ).Observe(res.Duration.Seconds())
}

func (m *Metrics) recovery(step domain.PipelineStep, strategy string) {
	if m == nil {
		return
	}
	m.recoveries.WithLabelValues(string(step), strategy).Inc()
}

func (m *Metrics) run(status domain.PipelineStep) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}
