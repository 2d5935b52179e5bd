// Package metrics exposes Prometheus instruments for conversation turns.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
)

type Metrics struct {
	registry *prometheus.Registry

	Turns             *prometheus.CounterVec
	TurnDuration      prometheus.Histogram
	Fallbacks         prometheus.Counter
	Regenerations     prometheus.Counter
	Violations        *prometheus.CounterVec
	SessionsCreated   prometheus.Counter
	SessionsCompleted prometheus.Counter
	PolicyReloads     prometheus.Counter
	Tokens            *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diagnostician_turns_total",
				Help: "Processed turns by chosen action and resulting phase",
			},
			[]string{"action", "phase"},
		),
		TurnDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "diagnostician_turn_duration_seconds",
				Help:    "Wall time to process one turn",
				Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
			},
		),
		Fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "diagnostician_fallback_replies_total",
				Help: "Replies served from a deterministic fallback template",
			},
		),
		Regenerations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "diagnostician_regenerations_total",
				Help: "Replies regenerated after failing validation",
			},
		),
		Violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diagnostician_reply_violations_total",
				Help: "Validation violations left after correction, by check and severity",
			},
			[]string{"check", "severity"},
		),
		SessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "diagnostician_sessions_created_total",
				Help: "Sessions created",
			},
		),
		SessionsCompleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "diagnostician_sessions_completed_total",
				Help: "Sessions that reached farewell",
			},
		),
		PolicyReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "diagnostician_policy_reloads_total",
				Help: "Policy revisions applied from disk",
			},
		),
		Tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "diagnostician_completion_tokens_total",
				Help: "Tokens consumed by completion calls, by model and direction",
			},
			[]string{"model", "direction"},
		),
	}
	reg.MustRegister(
		m.Turns, m.TurnDuration, m.Fallbacks, m.Regenerations, m.Violations,
		m.SessionsCreated, m.SessionsCompleted, m.PolicyReloads, m.Tokens,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveTurn records one processed turn. A nil receiver is a no-op.
func (m *Metrics) ObserveTurn(res engine.TurnResult, took time.Duration) {
	if m == nil {
		return
	}
	phase := ""
	if res.State != nil {
		phase = string(res.State.Phase)
	}
	m.Turns.WithLabelValues(string(res.Decision.Action), phase).Inc()
	m.TurnDuration.Observe(took.Seconds())
	if res.Fallback {
		m.Fallbacks.Inc()
	}
	if res.Regenerated {
		m.Regenerations.Inc()
	}
	for _, v := range res.Violations {
		m.Violations.WithLabelValues(v.Check, string(v.Severity)).Inc()
	}
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.SessionsCreated.Inc()
	}
}

func (m *Metrics) SessionCompleted() {
	if m != nil {
		m.SessionsCompleted.Inc()
	}
}

func (m *Metrics) PolicyReloaded() {
	if m != nil {
		m.PolicyReloads.Inc()
	}
}

// ObserveTokens matches anthropic.UsageHook.
func (m *Metrics) ObserveTokens(model string, in, out int) {
	if m == nil {
		return
	}
	m.Tokens.WithLabelValues(model, "input").Add(float64(in))
	m.Tokens.WithLabelValues(model, "output").Add(float64(out))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
