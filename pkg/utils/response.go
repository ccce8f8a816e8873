package utils

import (
	"encoding/json"
	"errors"
	"net/http"

	"vigil/pkg/apperror"

	"github.com/rs/zerolog/log"
)

type ErrorBody struct {
	Error string `json:"error"`
}

type ValidationErrorBody struct {
	Errors []string `json:"errors"`
}

// WriteJSON encodes v as the whole response body. Strings come out as bare
// JSON strings, which is what the check-in and delete endpoints return.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encoding response body")
	}
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

func WriteValidationErrors(w http.ResponseWriter, messages []string) {
	WriteJSON(w, http.StatusBadRequest, ValidationErrorBody{Errors: messages})
}

// FromAppError maps a service error onto the wire format.
func FromAppError(w http.ResponseWriter, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	msg := appErr.Message
	if msg == "" {
		msg = string(appErr.Kind)
	}
	WriteError(w, apperror.GetHTTPStatus(appErr.Kind), msg)
}
