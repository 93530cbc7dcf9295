// Package handler implements the JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/daostore/internal/apperr"
	"github.com/dukerupert/daostore/internal/middleware"
)

const maxBodyBytes = 1 << 20

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps a service error onto its status. Only unexpected failures
// are logged.
func writeErr(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), op, "request_id", middleware.RequestID(r.Context()), "error", err)
	}
	writeError(w, status, apperr.Message(err))
}

// decodeJSON reads a single JSON object from the body. An empty body
// leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Invalid(key, "must be an integer")
	}
	return n, nil
}
