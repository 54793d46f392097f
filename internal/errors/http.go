// Package errors adapts domain errors to the HTTP surface: a stable JSON
// error envelope and the domain-code-to-status mapping.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/3leaps/gohaul/pkg/haul"
)

// HTTPErrorResponse is the JSON error envelope for every non-2xx response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the machine-readable code and human-readable message.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// StatusForCode maps a domain code to its HTTP status.
func StatusForCode(code haul.Code) int {
	switch code {
	case haul.CodeInvalidArgument:
		return http.StatusBadRequest
	case haul.CodeJobNotFound:
		return http.StatusNotFound
	case haul.CodeNoDestination, haul.CodeDestinationInactive:
		return http.StatusPreconditionFailed
	case haul.CodeLockBusy:
		return http.StatusServiceUnavailable
	case haul.CodeHandlerUnresolved:
		return http.StatusInternalServerError
	case haul.CodeSourceNotReady,
		haul.CodeJobAlreadyExists,
		haul.CodeJobRetrying,
		haul.CodeJobCompleted,
		haul.CodeJobCancelled,
		haul.CodeJobRefunded,
		haul.CodeJobActive,
		haul.CodePushInProgress,
		haul.CodeNotFailed,
		haul.CodeAlreadyRefunded,
		haul.CodeNoCharge:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RespondWithError writes err as the JSON envelope. Domain errors keep their
// code and message; everything else is masked as INTERNAL_ERROR.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFrom(r)

	var de *haul.DomainError
	if errors.As(err, &de) {
		WriteError(w, StatusForCode(de.Code), string(de.Code), de.Message, requestID)
		return
	}
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", requestID)
}

// WriteError writes the JSON error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(HTTPErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   message,
		RequestID: requestID,
	}})
}

// RequestIDFrom extracts the request id placed by the RequestID middleware,
// or empty when absent.
func RequestIDFrom(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id, ok := r.Context().Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type requestIDKey struct{}

// WithRequestID stores the request id on the request context.
func WithRequestID(r *http.Request, id string) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
}
