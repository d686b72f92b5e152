package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/driftline/internal/capture"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

type CaptureRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Text        string `json:"text"`
	Source      string `json:"source"`
	AudioURL    string `json:"audio_url"`
}

type captureResponse struct {
	Capture    captureView     `json:"capture"`
	Artifact   *artifactView   `json:"artifact,omitempty"`
	Engagement *engagementView `json:"engagement,omitempty"`
	Usage      *usage.Metrics  `json:"usage,omitempty"`
	JobID      string          `json:"job_id,omitempty"`
}

func handleCreateCapture(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CaptureRequest
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Source == "" {
			body.Source = storage.SourceWeb
		}
		req := capture.Request{
			UserID:      body.UserID,
			WorkspaceID: body.WorkspaceID,
			Text:        body.Text,
			Source:      body.Source,
			AudioURL:    body.AudioURL,
		}
		if err := deps.Pipeline.Validate(req); err != nil {
			writeFailure(w, err)
			return
		}
		if !allowed(w, r, deps, req.UserID, req.WorkspaceID, usage.OpCapture) {
			return
		}

		ctx, cancel := detached(r, deps.CaptureTimeout)
		defer cancel()

		if parseBoolParam(r, "async") {
			c, err := deps.Pipeline.Accept(ctx, req)
			if err != nil {
				writeFailure(w, err)
				return
			}
			jobID, err := capture.Enqueue(ctx, deps.Store, c.ID)
			if err != nil {
				if dErr := deps.Store.DeleteUnprocessedCapture(ctx, c.ID); dErr != nil {
					slog.Error("removing unqueued capture", "capture_id", c.ID, "error", dErr)
				}
				writeFailure(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, captureResponse{Capture: newCaptureView(c), JobID: jobID})
			return
		}

		res, m, err := deps.Pipeline.ProcessCapture(ctx, req)
		if err != nil {
			writeFailure(w, err)
			return
		}
		recordUsage(ctx, deps, req.WorkspaceID, req.UserID, usage.OpCapture, m)

		art := newArtifactView(res.Artifact)
		eng := newEngagementView(res.Member, res.Engagement)
		writeJSON(w, http.StatusCreated, captureResponse{
			Capture:    newCaptureView(res.Capture),
			Artifact:   &art,
			Engagement: &eng,
			Usage:      &m,
		})
	}
}

func handleGetCapture(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		c, err := deps.Store.GetCapture(r.Context(), id)
		if err != nil {
			writeFailure(w, err)
			return
		}
		resp := captureResponse{Capture: newCaptureView(c)}
		a, err := deps.Store.GetArtifactByCapture(r.Context(), id)
		switch {
		case err == nil:
			art := newArtifactView(a)
			resp.Artifact = &art
		case !errors.Is(err, storage.ErrNotFound):
			writeFailure(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
