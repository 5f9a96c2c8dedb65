package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestrator.
type Metrics struct {
	// Worker request metrics
	AgentRequestsTotal   *prometheus.CounterVec
	AgentRequestDuration *prometheus.HistogramVec
	AgentHealthStatus    *prometheus.GaugeVec

	// Review/rollback metrics
	EscalationsTotal     prometheus.Counter
	ReviewDuration       *prometheus.HistogramVec
	ReviewScore          prometheus.Histogram
	RollbacksTotal       *prometheus.CounterVec

	// Step execution metrics
	StepsExecutedTotal    *prometheus.CounterVec
	StepRetriesTotal      *prometheus.CounterVec
	ActiveWaveSize         *prometheus.GaugeVec
	StepExecutionDuration *prometheus.HistogramVec
	SnapshotsHeld          *prometheus.GaugeVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics
	ActiveAgents         *prometheus.GaugeVec
	AgentRegistrations   prometheus.Counter
	AgentDeregistrations prometheus.Counter
}

// NewMetrics creates and registers all orchestrator metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		AgentRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_requests_total",
				Help: "Total number of requests to worker agents",
			},
			[]string{"agent", "status"},
		),

		AgentRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_request_duration_seconds",
				Help:    "Duration of worker agent requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"agent"},
		),

		AgentHealthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agent_health_status",
				Help: "Health status of worker agents (1=healthy, 0=unhealthy)",
			},
			[]string{"agent"},
		),

		EscalationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "escalations_total",
				Help: "Total number of steps escalated for human attention",
			},
		),

		ReviewDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "review_duration_seconds",
				Help:    "Duration of quality review calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"outcome"},
		),

		ReviewScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "review_score",
				Help:    "Distribution of quality review scores",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		RollbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollbacks_total",
				Help: "Total number of step rollbacks, by action",
			},
			[]string{"action"},
		),

		StepsExecutedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "steps_executed_total",
				Help: "Total number of steps executed, by status",
			},
			[]string{"status"},
		),

		StepRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "step_retries_total",
				Help: "Total number of step execution retries",
			},
			[]string{"step_name"},
		),

		ActiveWaveSize: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "active_wave_size",
				Help: "Number of steps being executed concurrently in the current wave",
			},
			[]string{"trace_id"},
		),

		StepExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "step_execution_duration_seconds",
				Help:    "Duration of individual step executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"step_name"},
		),

		SnapshotsHeld: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "snapshots_held",
				Help: "Number of snapshots currently retained for a trace",
			},
			[]string{"trace_id"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"method", "endpoint"},
		),

		ActiveAgents: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "active_agents",
				Help: "Number of active worker agents",
			},
			[]string{"status"},
		),

		AgentRegistrations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_registrations_total",
				Help: "Total number of agent registrations",
			},
		),

		AgentDeregistrations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_deregistrations_total",
				Help: "Total number of agent deregistrations",
			},
		),
	}

	return m
}

// RecordAgentRequest records metrics for a worker agent request.
func (m *Metrics) RecordAgentRequest(agent, status string, duration float64) {
	m.AgentRequestsTotal.WithLabelValues(agent, status).Inc()
	m.AgentRequestDuration.WithLabelValues(agent).Observe(duration)
}

// UpdateAgentHealth updates the health status of a worker agent.
func (m *Metrics) UpdateAgentHealth(agent string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.AgentHealthStatus.WithLabelValues(agent).Set(value)
}

// RecordEscalation records a step being escalated for human attention.
func (m *Metrics) RecordEscalation() {
	m.EscalationsTotal.Inc()
}

// RecordReview records a quality review call's duration, outcome and score.
func (m *Metrics) RecordReview(outcome string, duration, score float64) {
	m.ReviewDuration.WithLabelValues(outcome).Observe(duration)
	m.ReviewScore.Observe(score)
}

// RecordRollback records a rollback action taken by the scheduler.
func (m *Metrics) RecordRollback(action string) {
	m.RollbacksTotal.WithLabelValues(action).Inc()
}

// RecordStepExecuted records a step's terminal status and duration.
func (m *Metrics) RecordStepExecuted(stepName, status string, duration float64) {
	m.StepsExecutedTotal.WithLabelValues(status).Inc()
	m.StepExecutionDuration.WithLabelValues(stepName).Observe(duration)
}

// RecordStepRetry records a single retry attempt of a step.
func (m *Metrics) RecordStepRetry(stepName string) {
	m.StepRetriesTotal.WithLabelValues(stepName).Inc()
}

// UpdateActiveWaveSize updates the number of steps executing concurrently
// for a trace.
func (m *Metrics) UpdateActiveWaveSize(traceID string, size float64) {
	m.ActiveWaveSize.WithLabelValues(traceID).Set(size)
}

// UpdateSnapshotsHeld updates the snapshot count retained for a trace.
func (m *Metrics) UpdateSnapshotsHeld(traceID string, count float64) {
	m.SnapshotsHeld.WithLabelValues(traceID).Set(count)
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, status string, duration float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// UpdateActiveAgents updates the count of active worker agents by status.
func (m *Metrics) UpdateActiveAgents(status string, count float64) {
	m.ActiveAgents.WithLabelValues(status).Set(count)
}

// RecordAgentRegistration records an agent registration.
func (m *Metrics) RecordAgentRegistration() {
	m.AgentRegistrations.Inc()
}

// RecordAgentDeregistration records an agent deregistration.
func (m *Metrics) RecordAgentDeregistration() {
	m.AgentDeregistrations.Inc()
}
