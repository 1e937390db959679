// Package httputil provides HTTP handler utilities for consistent JSON
// responses and error mapping.
package httputil

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 response with JSON data.
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteErrorMessage writes a JSON error response with a custom message.
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

// WriteBadRequest writes a bad request error (400).
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

// WriteUnauthorized writes an unauthenticated error (401).
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

// WriteForbidden writes a forbidden error (403).
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteServiceUnavailable writes an upstream-unavailable error (503).
func WriteServiceUnavailable(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusServiceUnavailable, message)
}

// WriteInternalError writes an internal server error (500).
func WriteInternalError(w http.ResponseWriter, err error) {
	WriteErrorMessage(w, http.StatusInternalServerError, err.Error())
}
