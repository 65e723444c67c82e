package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/marketplace/internal/apperr"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err's kind to a status code and writes its stable code.
// Transient errors are logged and reported without detail.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := errorBody{Error: apperr.CodeOf(err)}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		body.Message = "internal error"
	} else {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			body.Message = ae.Message
		}
	}
	writeJSON(w, status, body)
}
