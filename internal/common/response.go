package common

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Envelope is the response shape every endpoint returns.
type Envelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
	Results *int   `json:"results,omitempty"`
	Errors  any    `json:"errors,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Success wraps data in a success envelope.
func Success(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Status: statusSuccess, Message: message, Data: data})
}

// List renders a collection together with its size.
func List(w http.ResponseWriter, data any, results int) {
	JSON(w, http.StatusOK, Envelope{Status: statusSuccess, Data: data, Results: &results})
}

// JSONError renders an error envelope.
func JSONError(w http.ResponseWriter, status int, code, message string, details any) {
	JSON(w, status, Envelope{Status: statusError, Code: code, Message: message, Errors: details})
}

// WriteError maps err onto an error envelope. Errors that are not AppErrors are
// logged and reported as a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		if status >= http.StatusInternalServerError {
			logFromRequest(r).Error().Err(err).Str("code", code).Msg("request failed")
		}
		JSONError(w, status, code, message, appErr.Details)
		return
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request", FieldErrors(verrs))
		return
	}
	logFromRequest(r).Error().Err(err).Msg("request failed")
	JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func logFromRequest(r *http.Request) *zerolog.Logger {
	if r == nil {
		l := zerolog.Nop()
		return &l
	}
	return zerolog.Ctx(r.Context())
}

// DecodeJSON decodes the request body into dst and validates it.
func DecodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return BodyError("invalid request payload", err)
	}
	return Validate(dst)
}
