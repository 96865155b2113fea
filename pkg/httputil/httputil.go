// Package httputil holds the small set of JSON request/response helpers
// shared by the operator and aggregator HTTP APIs.
package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
)

// ErrorResponse is the JSON envelope returned on any non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteJSON writes data as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON ErrorResponse with the given status and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Code: http.StatusText(status), Message: message})
}

func BadRequest(w http.ResponseWriter, message string)   { WriteError(w, http.StatusBadRequest, message) }
func NotFound(w http.ResponseWriter, message string)     { WriteError(w, http.StatusNotFound, message) }
func Conflict(w http.ResponseWriter, message string)     { WriteError(w, http.StatusConflict, message) }
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// DecodeJSON decodes the request body into v, writing a 400 response and
// returning false on failure.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			BadRequest(w, "request body required")
			return false
		}
		BadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// QueryString returns a query parameter or defaultVal if absent.
func QueryString(r *http.Request, key, defaultVal string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return defaultVal
}

// QueryInt returns an integer query parameter or defaultVal if absent/invalid.
func QueryInt(r *http.Request, key string, defaultVal int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	return n
}

// QueryBool returns a boolean query parameter or defaultVal if absent.
func QueryBool(r *http.Request, key string, defaultVal bool) bool {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultVal
	}
	return raw == "true" || raw == "1" || raw == "yes"
}
