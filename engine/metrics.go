package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensearch-project/mlagent/hook"
)

// Metrics exposes Prometheus collectors that report executor activity.
type Metrics struct {
	executions      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	iterations      *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	hookInvocations *prometheus.CounterVec
	active          prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the metrics registered with the global Prometheus
// registry. The collectors are created once so that several engines in one
// process share them.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the executor collectors with reg. Collectors
// already registered under the same name are reused; any other registration
// error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlagent",
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Executions by agent type and termination reason.",
		}, []string{"agent_type", "termination"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mlagent",
			Subsystem: "executor",
			Name:      "execution_duration_seconds",
			Help:      "Wall time of executions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent_type"}),
		iterations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mlagent",
			Subsystem: "executor",
			Name:      "iterations",
			Help:      "Model iterations per conversational execution.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}, []string{"agent_type"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlagent",
			Subsystem: "executor",
			Name:      "tool_calls_total",
			Help:      "Tool results appended to transcripts.",
		}, []string{"agent_type"}),
		hookInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlagent",
			Subsystem: "context_manager",
			Name:      "hook_invocations_total",
			Help:      "Hook invocations by point, type and outcome.",
		}, []string{"point", "type", "outcome"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mlagent",
			Subsystem: "executor",
			Name:      "executions_active",
			Help:      "Executions currently running.",
		}),
	}

	m.executions = register(reg, m.executions)
	m.duration = register(reg, m.duration)
	m.iterations = register(reg, m.iterations)
	m.toolCalls = register(reg, m.toolCalls)
	m.hookInvocations = register(reg, m.hookInvocations)
	m.active = register(reg, m.active)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) finished(agentType, termination string, iterations, toolCalls int, d time.Duration) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.executions.WithLabelValues(agentType, termination).Inc()
	m.duration.WithLabelValues(agentType).Observe(d.Seconds())
	if iterations > 0 {
		m.iterations.WithLabelValues(agentType).Observe(float64(iterations))
	}
	if toolCalls > 0 {
		m.toolCalls.WithLabelValues(agentType).Add(float64(toolCalls))
	}
}

// ObserveHook records one hook invocation. It is a hook.Observer.
func (m *Metrics) ObserveHook(ev hook.Event) {
	if m == nil {
		return
	}
	outcome := "skipped"
	switch {
	case ev.Err != nil:
		outcome = "fallback"
	case ev.Applied:
		outcome = "applied"
	}
	m.hookInvocations.WithLabelValues(string(ev.Point), ev.Type, outcome).Inc()
}
