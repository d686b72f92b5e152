// Package metrics holds the prometheus collectors for captures and synthesis
// runs. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/kalambet/driftline/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultInvalid = "invalid"
	ResultNoop    = "noop"
)

type Metrics struct {
	captures         *prometheus.CounterVec
	captureDuration  prometheus.Histogram
	synthesisRuns    *prometheus.CounterVec
	documentVersions *prometheus.CounterVec
	tokens           *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftline_captures_total",
			Help: "Captures processed, by result.",
		}, []string{"result"}),
		captureDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftline_capture_duration_seconds",
			Help:    "Wall time of the capture pipeline.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60},
		}),
		synthesisRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftline_synthesis_runs_total",
			Help: "Synthesis runs, by trigger and result.",
		}, []string{"trigger", "result"}),
		documentVersions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftline_document_versions_total",
			Help: "Synthesis document versions recorded, by change type.",
		}, []string{"change_type"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftline_llm_tokens_total",
			Help: "Language model tokens consumed, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.captures, m.captureDuration, m.synthesisRuns, m.documentVersions, m.tokens)
	return m
}

func (m *Metrics) ObserveCapture(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(result).Inc()
	m.captureDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSynthesis(trigger, result string) {
	if m == nil {
		return
	}
	m.synthesisRuns.WithLabelValues(trigger, result).Inc()
}

func (m *Metrics) AddVersion(changeType string) {
	if m == nil {
		return
	}
	m.documentVersions.WithLabelValues(changeType).Inc()
}

func (m *Metrics) AddTokens(u engine.Usage) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("input").Add(float64(u.PromptTokens))
	m.tokens.WithLabelValues("output").Add(float64(u.CompletionTokens))
}

// Handler serves the collectors registered with g in the text exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
