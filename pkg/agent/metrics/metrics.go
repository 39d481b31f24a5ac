// Package metrics exposes Prometheus instrumentation for the agent
// runtime: model call counts and latency, tool dispatch outcomes, and run
// terminations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"conductor/pkg/agent"
	"conductor/pkg/llm"
)

// Recorder implements agent.MetricsRecorder on top of a Prometheus
// registry. All collectors are registered at construction; Record methods
// are safe for concurrent use.
type Recorder struct {
	modelCalls      *prometheus.CounterVec
	modelLatency    *prometheus.HistogramVec
	toolDispatches  *prometheus.CounterVec
	toolLatency     *prometheus.HistogramVec
	runTerminations *prometheus.CounterVec
}

// NewRecorder registers the runtime collectors with reg. Pass
// prometheus.DefaultRegisterer to use the process-global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)

	return &Recorder{
		modelCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "agent",
			Name:      "model_calls_total",
			Help:      "Model calls by model and finish reason.",
		}, []string{"model", "finish_reason"}),

		modelLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "agent",
			Name:      "model_call_duration_seconds",
			Help:      "Model call latency by model.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"model"}),

		toolDispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "agent",
			Name:      "tool_dispatches_total",
			Help:      "Tool dispatches by tool name and outcome.",
		}, []string{"tool", "outcome"}),

		toolLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "conductor",
			Subsystem: "agent",
			Name:      "tool_dispatch_duration_seconds",
			Help:      "Tool handler latency by tool name.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"tool"}),

		runTerminations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conductor",
			Subsystem: "agent",
			Name:      "run_terminations_total",
			Help:      "Terminal run states by status and failure reason.",
		}, []string{"status", "reason"}),
	}
}

// RecordModelCall counts one backend turn and observes its latency.
func (r *Recorder) RecordModelCall(model string, finish llm.FinishReason, duration time.Duration) {
	r.modelCalls.WithLabelValues(model, string(finish)).Inc()
	r.modelLatency.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordToolDispatch counts one tool dispatch and observes handler latency.
func (r *Recorder) RecordToolDispatch(tool string, isError bool, duration time.Duration) {
	outcome := "ok"
	if isError {
		outcome = "error"
	}
	r.toolDispatches.WithLabelValues(tool, outcome).Inc()
	r.toolLatency.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordRunTermination counts one terminal run state.
func (r *Recorder) RecordRunTermination(status agent.Status, reason agent.FailReason) {
	r.runTerminations.WithLabelValues(string(status), string(reason)).Inc()
}
