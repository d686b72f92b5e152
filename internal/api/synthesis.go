package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/driftline/internal/extract"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/synthesis"
	"github.com/kalambet/driftline/internal/usage"
)

// --- Signals ---

type SignalRequest struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Priority       string `json:"priority"`
}

type priorityRequest struct {
	Priority string `json:"priority"`
}

func handleAddSignal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SignalRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sig, err := deps.Signals.Add(r.Context(), synthesis.SignalRequest{
			WorkspaceID:    chi.URLParam(r, "ws"),
			Content:        req.Content,
			ConversationID: req.ConversationID,
			MessageID:      req.MessageID,
			Priority:       req.Priority,
		})
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newSignalView(sig))
	}
}

func handleListSignals(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sigs, err := deps.Store.ListSignals(r.Context(), chi.URLParam(r, "ws"), parseBoolParam(r, "unprocessed"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSignalViews(sigs))
	}
}

// workspaceSignal loads a signal and hides it when it belongs to another
// workspace.
func workspaceSignal(w http.ResponseWriter, r *http.Request, deps Deps) (storage.Signal, bool) {
	sig, err := deps.Store.GetSignal(r.Context(), chi.URLParam(r, "id"))
	if err == nil && sig.WorkspaceID != chi.URLParam(r, "ws") {
		err = storage.ErrNotFound
	}
	if err != nil {
		writeFailure(w, err)
		return storage.Signal{}, false
	}
	return sig, true
}

func handlePrioritizeSignal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req priorityRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if !extract.ValidPriority(req.Priority) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "priority must be one of %s", strings.Join(extract.Priorities, ", "))
			return
		}
		sig, ok := workspaceSignal(w, r, deps)
		if !ok {
			return
		}
		sig, err := deps.Store.SetHumanPriority(r.Context(), sig.ID, req.Priority)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newSignalView(sig))
	}
}

func handleDeleteSignal(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sig, ok := workspaceSignal(w, r, deps)
		if !ok {
			return
		}
		if err := deps.Store.DeleteSignal(r.Context(), sig.ID); err != nil {
			writeFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Runs ---

type RunRequest struct {
	UserID string `json:"user_id"`
}

type runResponse struct {
	Summary                 string                           `json:"summary"`
	Commit                  *commitView                      `json:"commit"`
	Operations              []synthesis.AppliedOperation     `json:"operations"`
	Skipped                 []synthesis.SkippedOperation     `json:"skipped,omitempty"`
	PriorityRecommendations []extract.PriorityRecommendation `json:"priority_recommendations"`
	SignalsConsumed         int                              `json:"signals_consumed"`
	Usage                   usage.Metrics                    `json:"usage"`
}

func newRunResponse(res synthesis.RunResult, m usage.Metrics) runResponse {
	resp := runResponse{
		Summary:                 res.Summary,
		Operations:              res.Operations,
		Skipped:                 res.Skipped,
		PriorityRecommendations: res.PriorityRecommendations,
		SignalsConsumed:         res.SignalsConsumed,
		Usage:                   m,
	}
	if res.Commit != nil {
		c := newCommitView(*res.Commit)
		resp.Commit = &c
	}
	if resp.Operations == nil {
		resp.Operations = []synthesis.AppliedOperation{}
	}
	if resp.PriorityRecommendations == nil {
		resp.PriorityRecommendations = []extract.PriorityRecommendation{}
	}
	return resp
}

func handleRunSynthesis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RunRequest
		if r.ContentLength > 0 && !decodeBody(w, r, &req) {
			return
		}
		ws := chi.URLParam(r, "ws")
		if !allowed(w, r, deps, req.UserID, ws, usage.OpSynthesis) {
			return
		}

		ctx, cancel := detached(r, deps.SynthesisTimeout)
		defer cancel()

		res, m, err := deps.Orchestrator.Run(ctx, ws, storage.TriggerSynthesisRun)
		// Tokens spent on a failed run are still billed.
		recordUsage(ctx, deps, ws, req.UserID, usage.OpSynthesis, m)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newRunResponse(res, m))
	}
}

// --- Commits ---

func handleListCommits(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		commits, err := deps.Store.ListCommits(r.Context(), chi.URLParam(r, "ws"), parseIntParam(r, "limit", 50, 500))
		if err != nil {
			writeFailure(w, err)
			return
		}
		out := make([]commitView, len(commits))
		for i, c := range commits {
			out[i] = newCommitView(c)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetCommit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Store.GetCommit(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCommitDetailView(d))
	}
}

// --- Documents ---

type DocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListDocuments(r.Context(), chi.URLParam(r, "ws"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newDocumentViews(docs))
	}
}

func handleCreateDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DocumentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := deps.Editor.Create(r.Context(), chi.URLParam(r, "ws"), req.Title, req.Content)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, newCommitDetailView(d))
	}
}

func handleModifyDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DocumentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		d, err := deps.Editor.Modify(r.Context(), chi.URLParam(r, "id"), req.Title, req.Content)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCommitDetailView(d))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := deps.Editor.Delete(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newCommitDetailView(d))
	}
}

func handleDocumentHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vs, err := deps.Store.DocumentHistory(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newVersionViews(vs))
	}
}
