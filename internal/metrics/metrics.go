// Package metrics exports Prometheus metrics for conversation turns and
// tool calls.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ianisms/ha.ollama.conv.tools/internal/agent"
)

const namespace = "tooledca"

// Metrics records turn statistics. It implements agent.Observer.
type Metrics struct {
	registry *prometheus.Registry

	turns        *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	inFlight     prometheus.Gauge
	history      prometheus.GaugeFunc
	conversation prometheus.GaugeFunc
}

// HistorySizer reports history size for the gauges.
type HistorySizer interface {
	Size() int
	Conversations() int
}

// New creates the metrics on a private registry. A nil history leaves
// the history gauges at zero.
func New(history HistorySizer) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by model and outcome.",
		}, []string{"model", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a conversation turn.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
		}, []string{"model"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls by tool and outcome (ok, error, not_found).",
		}, []string{"tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Conversation requests currently being served.",
		}),
	}

	size := func() float64 { return 0 }
	convs := size
	if history != nil {
		size = func() float64 { return float64(history.Size()) }
		convs = func() float64 { return float64(history.Conversations()) }
	}
	m.history = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "history_items",
		Help:      "Items held across all conversation histories.",
	}, size)
	m.conversation = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_conversations",
		Help:      "Conversations with history.",
	}, convs)

	m.registry.MustRegister(
		m.turns, m.turnDuration, m.toolCalls, m.toolDuration,
		m.inFlight, m.history, m.conversation,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTurn records one turn.
func (m *Metrics) ObserveTurn(_ context.Context, s agent.TurnStats) {
	outcome := "ok"
	if !s.Success {
		outcome = "error"
	}
	m.turns.WithLabelValues(s.Model, outcome).Inc()
	m.turnDuration.WithLabelValues(s.Model).Observe(s.Duration.Seconds())

	for _, t := range s.Tools {
		switch {
		case !t.Found:
			m.toolCalls.WithLabelValues(t.Name, "not_found").Inc()
			continue
		case t.Success:
			m.toolCalls.WithLabelValues(t.Name, "ok").Inc()
		default:
			m.toolCalls.WithLabelValues(t.Name, "error").Inc()
		}
		m.toolDuration.WithLabelValues(t.Name).Observe(t.Duration.Seconds())
	}
}

// Track wraps next, counting requests in flight.
func (m *Metrics) Track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()
		next.ServeHTTP(w, r)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
