package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/unitdeck/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error   apperr.Kind `json:"error" validate:"required"`
	Message string      `json:"message" validate:"required"`
	Detail  any         `json:"detail,omitempty"`
}

func errorBody(kind apperr.Kind, msg string) errResponse {
	return errResponse{Error: kind, Message: msg}
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnitNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindOperationInProgress:
		return http.StatusConflict
	case apperr.KindRefreshFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError classifies err and writes the matching error body. Server-side
// failures are logged; client errors are not.
func writeError(w http.ResponseWriter, r *http.Request, err error, detail any) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()))
	}
	body := errorBody(kind, err.Error())
	body.Detail = detail
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody(apperr.KindInvalidRequest, msg))
}
