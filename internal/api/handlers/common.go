// Package handlers provides HTTP request handlers for the portprobe API.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/anstrom/portprobe/internal/api/middleware"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// getQueryParamInt extracts an integer query parameter with a default value.
func getQueryParamInt(r *http.Request, key string, defaultValue int) (int, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter: %q", key, value)
	}
	return n, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response",
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	writeJSON(w, r, statusCode, ErrorResponse{
		Error:     http.StatusText(statusCode),
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	})
}

// parseJSON parses a JSON request body into dest.
func parseJSON(r *http.Request, dest interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is empty")
	}

	const maxRequestSize = 64 * 1024
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestSize)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dest); err != nil {
		if err.Error() == "http: request body too large" {
			return fmt.Errorf("request body too large (max 64KB)")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}
