package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/driftline/internal/storage"
)

type memberView struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	engagementView
}

func newMemberView(m storage.Membership) memberView {
	return memberView{
		UserID:         m.UserID,
		WorkspaceID:    m.WorkspaceID,
		engagementView: newEngagementView(true, m.State),
	}
}

func handleGetMember(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Store.GetMembership(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "ws"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newMemberView(m))
	}
}

func handleEnrolMember(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Store.EnsureMembership(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "ws"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newMemberView(m))
	}
}

type canonRequest struct {
	Content string `json:"content"`
}

type canonView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func handleSetCanon(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req canonRequest
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := deps.Canon.Set(r.Context(), chi.URLParam(r, "ws"), req.Content)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, canonView{ID: c.ID, WorkspaceID: c.WorkspaceID, CreatedAt: c.CreatedAt})
	}
}

func handleSearch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		kind := r.URL.Query().Get("kind")
		if kind == "" {
			kind = storage.KindDocuments
		}
		if kind != storage.KindDocuments && kind != storage.KindSignals {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be %q or %q", storage.KindDocuments, storage.KindSignals)
			return
		}
		limit := parseIntParam(r, "limit", 10, 50)
		if limit == 0 {
			limit = 10
		}

		hits, err := deps.Searcher.Search(r.Context(), chi.URLParam(r, "ws"), q, kind, limit)
		if err != nil {
			writeFailure(w, err)
			return
		}
		if hits == nil {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("[]\n"))
			return
		}
		writeJSON(w, http.StatusOK, hits)
	}
}
