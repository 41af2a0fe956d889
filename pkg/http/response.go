package http

import (
	"encoding/json"
	"net/http"

	apperrors "edubook/pkg/errors"
)

func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError renders err as JSON. Non-AppErrors become a generic 500 so
// driver messages are never exposed.
func WriteError(w http.ResponseWriter, err error) {
	appErr := apperrors.AsAppError(err)
	WriteJSON(w, appErr.StatusCode(), appErr.Response())
}
