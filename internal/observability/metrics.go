package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	turnTotal    *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec

	activeConversations prometheus.Gauge

	storeQueryDuration *prometheus.HistogramVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskdeck_turns_total",
					Help: "Total conversational turns processed by status.",
				},
				[]string{"status"},
			),
			turnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "taskdeck_turn_duration_seconds",
					Help:    "Duration of conversational turns in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"status"},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskdeck_tool_executions_total",
					Help: "Total tool executions by tool name and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "taskdeck_tool_execution_duration_seconds",
					Help:    "Duration of tool executions in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskdeck_tool_errors_total",
					Help: "Total tool execution failures by tool name and error code.",
				},
				[]string{"tool", "code"},
			),
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "taskdeck_provider_calls_total",
					Help: "Total inference provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "taskdeck_provider_call_duration_seconds",
					Help:    "Duration of inference provider calls in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			activeConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "taskdeck_active_conversations",
					Help: "Number of conversations with persisted history.",
				},
			),
			storeQueryDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "taskdeck_store_query_duration_seconds",
					Help:    "Duration of task store operations in seconds.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"operation"},
			),
		}

		prometheus.MustRegister(
			m.turnTotal,
			m.turnDuration,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.providerCallTotal,
			m.providerCallDuration,
			m.activeConversations,
			m.storeQueryDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered registers all metrics with the default registry.
// Safe to call from every package that records metrics.
func EnsureRegistered() {
	getMetrics()
}

// RecordTurn records a completed conversational turn
func RecordTurn(duration time.Duration, success bool) {
	m := getMetrics()
	status := "ok"
	if !success {
		status = "error"
	}
	m.turnTotal.WithLabelValues(status).Inc()
	m.turnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordToolExecution records a tool execution
func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "ok"
	if !success {
		status = "error"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolError records a tool failure by error code
func RecordToolError(tool, code string) {
	getMetrics().toolErrorsTotal.WithLabelValues(tool, code).Inc()
}

// RecordProviderCall records an inference provider call
func RecordProviderCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "ok"
	if !success {
		status = "error"
	}
	m.providerCallTotal.WithLabelValues(provider, status).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// SetActiveConversations updates the active conversation gauge
func SetActiveConversations(n int) {
	getMetrics().activeConversations.Set(float64(n))
}

// RecordStoreQuery records a task store operation
func RecordStoreQuery(operation string, duration time.Duration) {
	getMetrics().storeQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns an HTTP handler exposing the default registry
func Handler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}
