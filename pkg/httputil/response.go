// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, and request parsing.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/platinummonkey/rbacd/pkg/observability"
	"github.com/platinummonkey/rbacd/pkg/rbac"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Kind    string            `json:"kind,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// StatusFor maps an engine error kind to an HTTP status
func StatusFor(kind rbac.Kind) int {
	switch kind {
	case rbac.KindNotFound:
		return http.StatusNotFound
	case rbac.KindBadRequest:
		return http.StatusBadRequest
	case rbac.KindForbidden:
		return http.StatusForbidden
	case rbac.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err using its engine kind for the status. Only the
// caller-safe message is written; internal causes are logged.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := rbac.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context()).WithError(err).Error("Request failed")
	}
	_ = WriteJSON(w, status, ErrorResponse{Error: rbac.PublicMessage(err), Kind: string(kind)})
}

// WriteErrorMessage writes a JSON error response with a custom message
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	_ = WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403)
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteNoContent writes a successful response with no content (204 No Content)
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
