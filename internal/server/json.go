package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/qrinfo/hunt/internal/hunt"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// errorStatus maps the engine's error taxonomy onto HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, hunt.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, hunt.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, hunt.ErrInvalidState),
		errors.Is(err, hunt.ErrAlreadyCompleted),
		errors.Is(err, hunt.ErrOutOfOrder):
		return http.StatusConflict
	case errors.Is(err, hunt.ErrDependencyTimeout):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeEngineError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
