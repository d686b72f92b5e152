package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kalambet/driftline/internal/canon"
	"github.com/kalambet/driftline/internal/capture"
	"github.com/kalambet/driftline/internal/metrics"
	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/synthesis"
	"github.com/kalambet/driftline/internal/usage"
)

const (
	defaultCaptureTimeout   = 60 * time.Second
	defaultSynthesisTimeout = 90 * time.Second
)

type Deps struct {
	Store        *storage.Store
	Pipeline     *capture.Pipeline
	Orchestrator *synthesis.Orchestrator
	Editor       *synthesis.Editor
	Signals      *synthesis.Signals
	Canon        *canon.Service
	Searcher     *retrieval.Searcher
	Quota        usage.QuotaGate     // nil allows everything
	Gatherer     prometheus.Gatherer // nil disables /metrics
	Token        string

	CaptureTimeout   time.Duration
	SynthesisTimeout time.Duration
}

// NewHandler returns the driftline HTTP API. Everything except /health and
// /metrics requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	deps = withDefaults(deps)

	r := chi.NewRouter()
	r.Get("/health", handleHealth)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/captures", handleCreateCapture(deps))
		r.Get("/captures/{id}", handleGetCapture(deps))

		r.Route("/workspaces/{ws}", func(r chi.Router) {
			r.Get("/members/{user}", handleGetMember(deps))
			r.Post("/members/{user}", handleEnrolMember(deps))
			r.Post("/canon", handleSetCanon(deps))

			r.Post("/signals", handleAddSignal(deps))
			r.Get("/signals", handleListSignals(deps))
			r.Patch("/signals/{id}", handlePrioritizeSignal(deps))
			r.Delete("/signals/{id}", handleDeleteSignal(deps))

			r.Post("/synthesis/runs", handleRunSynthesis(deps))
			r.Get("/commits", handleListCommits(deps))
			r.Get("/documents", handleListDocuments(deps))
			r.Post("/documents", handleCreateDocument(deps))
			r.Get("/search", handleSearch(deps))
		})

		r.Get("/commits/{id}", handleGetCommit(deps))
		r.Put("/documents/{id}", handleModifyDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Get("/documents/{id}/history", handleDocumentHistory(deps))
	})

	return r
}

func withDefaults(deps Deps) Deps {
	if deps.Quota == nil {
		deps.Quota = usage.AllowAll{}
	}
	if deps.CaptureTimeout <= 0 {
		deps.CaptureTimeout = defaultCaptureTimeout
	}
	if deps.SynthesisTimeout <= 0 {
		deps.SynthesisTimeout = defaultSynthesisTimeout
	}
	return deps
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// detached returns a context that survives the client disconnecting, bounded
// by timeout.
func detached(r *http.Request, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), timeout)
}

// allowed consults the quota gate and answers the request itself when the
// operation may not proceed.
func allowed(w http.ResponseWriter, r *http.Request, deps Deps, userID, workspaceID, op string) bool {
	d, err := deps.Quota.Check(r.Context(), userID, workspaceID, op)
	if err != nil {
		slog.Error("quota check failed", "workspace_id", workspaceID, "operation", op, "error", err)
		httpError(w, http.StatusBadGateway, "upstream_error", "quota check failed: %v", err)
		return false
	}
	if !d.Allowed {
		reason := d.Reason
		if reason == "" {
			reason = "quota exceeded"
		}
		httpError(w, http.StatusTooManyRequests, "quota_exceeded", "%s", reason)
		return false
	}
	return true
}

func recordUsage(ctx context.Context, deps Deps, workspaceID, userID, op string, m usage.Metrics) {
	if m.InputTokens == 0 && m.OutputTokens == 0 {
		return
	}
	if err := usage.Record(ctx, deps.Store, workspaceID, userID, op, m); err != nil {
		slog.Error("recording usage", "workspace_id", workspaceID, "operation", op, "error", err)
	}
}
