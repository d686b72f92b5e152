package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kalambet/driftline/internal/canon"
	"github.com/kalambet/driftline/internal/capture"
	"github.com/kalambet/driftline/internal/engine"
	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/synthesis"
)

const maxRequestBodySize = 1 << 20 // 1MB

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// decodeBody reads a JSON request body into v, answering 400 itself on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeFailure maps a domain error onto a status code.
func writeFailure(w http.ResponseWriter, err error) {
	var (
		verr *capture.ValidationError
		perr *capture.ProcessingError
		rerr *synthesis.RunError
	)
	switch {
	case errors.As(err, &verr),
		errors.Is(err, synthesis.ErrInvalidInput),
		errors.Is(err, canon.ErrEmpty):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, storage.ErrHeadMoved),
		errors.Is(err, storage.ErrSignalConsumed),
		errors.Is(err, storage.ErrTitleTaken):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	// A pipeline failure is classified by its stage, even when it wraps a
	// storage lookup.
	case errors.As(err, &perr):
		upstreamFailure(w, perr.Retryable, err)
	case errors.As(err, &rerr):
		upstreamFailure(w, rerr.Retryable, err)
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case engine.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		upstreamFailure(w, true, err)
	case engine.IsFatal(err):
		upstreamFailure(w, false, err)
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func upstreamFailure(w http.ResponseWriter, retryable bool, err error) {
	if retryable {
		w.Header().Set("Retry-After", "5")
		httpError(w, http.StatusServiceUnavailable, "upstream_unavailable", "%v", err)
		return
	}
	httpError(w, http.StatusBadGateway, "upstream_error", "%v", err)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseBoolParam(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(key))
	return err == nil && v
}
