package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/jrschumacher/wheelcheck/internal/logger"
	"github.com/jrschumacher/wheelcheck/internal/validation"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message,omitempty"`
	Code    string             `json:"code,omitempty"`
	Details []validation.Error `json:"details,omitempty"`
}

// WriteError writes a standardized error response
func WriteError(w http.ResponseWriter, status int, message string, logFields ...any) {
	WriteErrorCode(w, status, "", message, logFields...)
}

// WriteErrorCode writes an error response carrying a machine-readable code
func WriteErrorCode(w http.ResponseWriter, status int, code, message string, logFields ...any) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
	}

	writeJSON(w, status, response)

	logFields = append([]any{"status", status, "code", code, "message", message}, logFields...)
	if status >= http.StatusInternalServerError {
		logger.Error("HTTP error response", logFields...)
	} else {
		logger.Debug("HTTP error response", logFields...)
	}
}

// WriteValidationError writes a validation error response
func WriteValidationError(w http.ResponseWriter, validationErr validation.Errors) {
	response := ErrorResponse{
		Error:   "Validation Failed",
		Message: validationErr.Error(),
		Code:    "validation_failed",
		Details: validationErr,
	}

	writeJSON(w, http.StatusUnprocessableEntity, response)
	logger.Debug("Validation error", "errors", validationErr.Error())
}

// WriteInternalError writes a generic internal server error
func WriteInternalError(w http.ResponseWriter, err error, message string, logFields ...any) {
	response := ErrorResponse{
		Error:   "Internal Server Error",
		Message: message,
	}

	writeJSON(w, http.StatusInternalServerError, response)

	logFields = append([]any{"error", err, "message", message}, logFields...)
	logger.Error("Internal server error", logFields...)
}

// WriteJSON writes a JSON response with proper error handling
func WriteJSON(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// WriteCreated writes a 201 Created response with JSON data
func WriteCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}

// WriteSuccess writes a 200 OK response with JSON data
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", "error", err)
	}
}
