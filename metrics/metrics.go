// Package metrics exports turn, model call and tool call metrics to
// Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pharmachat/agent"
	"pharmachat/llm"
)

const namespace = "pharmachat"

// Collector owns a registry with the agent's metrics. It observes turns and
// provides a hook that counts model and tool calls.
type Collector struct {
	registry     *prometheus.Registry
	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	iterations   prometheus.Histogram
	modelCalls   *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
}

var _ agent.TurnObserver = (*Collector)(nil)

// New creates a Collector with Go runtime and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a turn.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		iterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "loop_iterations",
			Help:      "Model calls per turn.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Completion service calls by outcome.",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.turns, c.turnDuration, c.iterations, c.modelCalls, c.toolCalls,
	)
	return c
}

// ObserveTurn records a finished turn.
func (c *Collector) ObserveTurn(r agent.TurnReport) {
	c.turns.WithLabelValues(r.Outcome).Inc()
	c.turnDuration.Observe(r.Duration.Seconds())
	if r.Iterations > 0 {
		c.iterations.Observe(float64(r.Iterations))
	}
}

// TrackSessions exports the live session count read from fn on scrape.
func (c *Collector) TrackSessions(fn func() int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Conversations currently held in memory.",
	}, func() float64 { return float64(fn()) }))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Hook returns the agent hook that counts model and tool calls.
func (c *Collector) Hook() agent.Hook {
	return &hook{c: c}
}

type hook struct {
	agent.BaseHook
	c *Collector
}

func (h *hook) Name() string { return "metrics" }

func (h *hook) WrapModelCall(ctx context.Context, msgs []agent.Message, next agent.ModelCallFunc) (*llm.Response, error) {
	resp, err := next(ctx, msgs)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	h.c.modelCalls.WithLabelValues(outcome).Inc()
	return resp, err
}

func (h *hook) WrapToolCall(ctx context.Context, call agent.ToolCall, next agent.ToolCallFunc) (*agent.ToolResult, error) {
	result, err := next(ctx, call)
	outcome := "ok"
	if err != nil || result == nil || result.Error != "" {
		outcome = "error"
	}
	h.c.toolCalls.WithLabelValues(call.Name, outcome).Inc()
	return result, err
}
