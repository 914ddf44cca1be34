// Package metrics exposes Prometheus collectors for conversation, tool, task
// and team activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crew"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	turns          *prometheus.CounterVec
	turnErrors     *prometheus.CounterVec
	streamDuration *prometheus.HistogramVec
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	taskStatus     *prometheus.CounterVec
	reviewActions  *prometheus.CounterVec
	evalScores     prometheus.Histogram
	jobs           *prometheus.CounterVec
	jobsActive     prometheus.Gauge
}

// MustNewMetrics registers the collectors with reg (the default registerer
// when nil). Registration conflicts panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "turns_total",
			Help: "Model turns completed per agent.",
		}, []string{"agent"}),
		turnErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "turn_errors_total",
			Help: "Turns that ended in a provider or processing error.",
		}, []string{"agent"}),
		streamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "session", Name: "stream_duration_seconds",
			Help:    "Time to fully consume a model stream.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"agent"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tools", Name: "calls_total",
			Help: "Dispatched tool calls by outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tools", Name: "call_duration_seconds",
			Help:    "Tool call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		taskStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "transitions_total",
			Help: "Task status transitions by target status.",
		}, []string{"status"}),
		reviewActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "team", Name: "review_actions_total",
			Help: "Leader review verdicts.",
		}, []string{"action"}),
		evalScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tasks", Name: "step_score",
			Help:    "Evaluator scores for completed steps.",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "worker", Name: "jobs_total",
			Help: "Background jobs by kind and outcome.",
		}, []string{"kind", "status"}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "worker", Name: "jobs_active",
			Help: "Jobs currently executing.",
		}),
	}

	reg.MustRegister(
		m.turns, m.turnErrors, m.streamDuration,
		m.toolCalls, m.toolDuration,
		m.taskStatus, m.reviewActions, m.evalScores,
		m.jobs, m.jobsActive,
	)
	return m
}

// ObserveTurn records a completed turn and how long its stream took.
func (m *Metrics) ObserveTurn(agent string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(agent).Inc()
	m.streamDuration.WithLabelValues(agent).Observe(d.Seconds())
	if err != nil {
		m.turnErrors.WithLabelValues(agent).Inc()
	}
}

// ObserveToolCall records a dispatched tool call.
func (m *Metrics) ObserveToolCall(tool string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// IncTaskStatus counts a task entering status.
func (m *Metrics) IncTaskStatus(status string) {
	if m == nil {
		return
	}
	m.taskStatus.WithLabelValues(status).Inc()
}

// IncReviewAction counts a leader verdict.
func (m *Metrics) IncReviewAction(action string) {
	if m == nil {
		return
	}
	m.reviewActions.WithLabelValues(action).Inc()
}

// ObserveScore records an evaluator score.
func (m *Metrics) ObserveScore(score float64) {
	if m == nil {
		return
	}
	m.evalScores.Observe(score)
}

// JobStarted marks a background job as running.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsActive.Inc()
}

// JobFinished records a background job outcome.
func (m *Metrics) JobFinished(kind string, err error) {
	if m == nil {
		return
	}
	m.jobsActive.Dec()
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.jobs.WithLabelValues(kind, status).Inc()
}
