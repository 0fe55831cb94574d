package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/batchflow"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), ErrorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// statusOf maps batchflow sentinel errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, batchflow.ErrJobNotFound),
		errors.Is(err, batchflow.ErrRunNotFound),
		errors.Is(err, batchflow.ErrGroupNotFound),
		errors.Is(err, batchflow.ErrUnknownTimeZone):
		return http.StatusNotFound
	case errors.Is(err, batchflow.ErrNotPaused),
		errors.Is(err, batchflow.ErrNotScheduled),
		errors.Is(err, batchflow.ErrRunNotActive),
		errors.Is(err, batchflow.ErrAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, batchflow.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// pathParam returns the unescaped URL parameter key.
func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

// intQuery parses a non-negative integer query parameter.
func intQuery(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + key + ": " + s)
	}
	return n, nil
}
