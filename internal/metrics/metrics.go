// Package metrics holds the Prometheus instruments for the library desk.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "librarydesk"

// Metrics holds all Prometheus metrics for the application.
// Recording methods are safe on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Agent metrics
	AgentResponsesTotal *prometheus.CounterVec
	AgentRounds         prometheus.Histogram

	// Tool metrics
	ToolExecutionsTotal   *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// Call log metrics
	CallLogDroppedTotal prometheus.Counter

	// Session metrics
	SessionsActive prometheus.Gauge
}

// NewMetrics creates and registers all metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		AgentResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_responses_total",
				Help:      "Total number of agent responses by terminal state",
			},
			[]string{"state"},
		),
		AgentRounds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "agent_rounds",
				Help:      "Model rounds used per agent response",
				Buckets:   []float64{1, 2, 3, 4, 5, 8},
			},
		),

		ToolExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_executions_total",
				Help:      "Total number of tool executions",
			},
			[]string{"tool", "status"},
		),
		ToolExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_execution_duration_seconds",
				Help:      "Duration of tool executions in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),

		CallLogDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "call_log_dropped_total",
				Help:      "Tool call log records dropped because the queue was full",
			},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live conversation contexts",
			},
		),
	}

	registry.MustRegister(
		m.AgentResponsesTotal,
		m.AgentRounds,
		m.ToolExecutionsTotal,
		m.ToolExecutionDuration,
		m.CallLogDroppedTotal,
		m.SessionsActive,
	)

	return m
}

// ObserveResponse records one finished agent response.
func (m *Metrics) ObserveResponse(state string, rounds int) {
	if m == nil {
		return
	}
	m.AgentResponsesTotal.WithLabelValues(state).Inc()
	m.AgentRounds.Observe(float64(rounds))
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutionsTotal.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// CallLogDropped counts one dropped call log record.
func (m *Metrics) CallLogDropped() {
	if m == nil {
		return
	}
	m.CallLogDroppedTotal.Inc()
}

// SetSessionsActive sets the live session gauge.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
