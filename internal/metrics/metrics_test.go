package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/driftline/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCapture(ResultOK, 2*time.Second)
	m.ObserveCapture(ResultOK, time.Second)
	m.ObserveCapture(ResultError, time.Second)
	m.ObserveSynthesis("manual", ResultOK)
	m.AddVersion("created")
	m.AddVersion("created")
	m.AddTokens(engine.Usage{PromptTokens: 100, CompletionTokens: 20})

	if got := testutil.ToFloat64(m.captures.WithLabelValues(ResultOK)); got != 2 {
		t.Errorf("captures ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.captures.WithLabelValues(ResultError)); got != 1 {
		t.Errorf("captures error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.synthesisRuns.WithLabelValues("manual", ResultOK)); got != 1 {
		t.Errorf("synthesis runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.documentVersions.WithLabelValues("created")); got != 2 {
		t.Errorf("versions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.tokens.WithLabelValues("input")); got != 100 {
		t.Errorf("input tokens = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.tokens.WithLabelValues("output")); got != 20 {
		t.Errorf("output tokens = %v, want 20", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveCapture(ResultOK, time.Second)
	m.ObserveSynthesis("manual", ResultOK)
	m.AddVersion("created")
	m.AddTokens(engine.Usage{PromptTokens: 1})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveCapture(ResultOK, time.Second)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `driftline_captures_total{result="ok"} 1`) {
		t.Errorf("metrics output missing capture counter:\n%s", body)
	}
}
