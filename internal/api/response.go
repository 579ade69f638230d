package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/intake/internal/apperr"
	"github.com/kalambet/intake/internal/assessment"
	"github.com/kalambet/intake/internal/interview"
	"github.com/kalambet/intake/internal/reasoning"
	"github.com/kalambet/intake/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

type envelope struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *apperr.Error `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	e := toAppError(err)
	if e.Code == apperr.CodeInternal || e.Code == apperr.CodeDatabaseNotSetup {
		slog.Error("request failed", "code", e.Code, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	json.NewEncoder(w).Encode(envelope{Error: e})
}

// toAppError maps package sentinels onto client-facing errors. Errors that
// already carry a code pass through unchanged.
func toAppError(err error) *apperr.Error {
	if e, ok := apperr.As(err); ok {
		return e
	}
	switch {
	case errors.Is(err, storage.ErrSchemaMissing):
		return apperr.DatabaseNotSetup(err)
	case errors.Is(err, assessment.ErrInvalidAnswer):
		return apperr.InvalidRequest("%v", err)
	case errors.Is(err, interview.ErrSessionClosed):
		return apperr.InvalidRequest("assessment is already finished")
	case errors.Is(err, interview.ErrNoQuestion):
		return apperr.AINoQuestion()
	}
	switch reasoning.UpstreamStatus(err) {
	case http.StatusUnauthorized:
		return apperr.AIUnauthorized(err)
	case http.StatusForbidden:
		return apperr.AIForbidden(err)
	}
	return apperr.Internal(err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidRequest("invalid request body: %v", err)
	}
	return nil
}
