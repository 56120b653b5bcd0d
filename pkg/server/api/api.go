// Package api provides shared plumbing for the HTTP API: dependency
// injection for handlers and the uniform JSON error envelope.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/millrun/millrun/pkg/archive"
	"github.com/millrun/millrun/pkg/job"
	"github.com/millrun/millrun/pkg/queue"
	"github.com/millrun/millrun/pkg/sched"
	"github.com/millrun/millrun/pkg/storage"
)

// Deps holds dependencies for API handlers.
// This pattern enables dependency injection and easier testing.
type Deps struct {
	// Scheduler is the job manager handling all queue mutation.
	Scheduler *sched.Manager

	// Workspace resolves and imports G-code programs.
	Workspace *storage.Workspace

	// Archive is the run history store. Nil when archiving is disabled.
	Archive *archive.Store

	// Ready flag for readiness checks.
	Ready *atomic.Bool
}

// ErrorResponse represents a standard JSON error response.
// Used consistently across all API endpoints.
//
// Example:
//
//	{
//	  "error": "Conflict",
//	  "code": "ALREADY_ACTIVE",
//	  "message": "another job is already active"
//	}
type ErrorResponse struct {
	Error   string `json:"error"`             // Short error type (e.g., "Not Found", "Conflict")
	Code    string `json:"code,omitempty"`    // Machine-readable error code (e.g., "JOB_NOT_FOUND")
	Message string `json:"message,omitempty"` // Detailed error message (optional)
}

// WriteError writes a standard JSON error response, mapping domain errors to
// HTTP status codes:
//   - queue.NotFoundError → 404 Not Found
//   - job.InvalidStateError → 409 Conflict
//   - queue.ErrAlreadyActive → 409 Conflict
//   - queue.AlreadyExistsError → 409 Conflict
//   - queue.SnapshotError → 500 Internal Server Error
//   - everything else → 500 Internal Server Error
//
// It also logs the error with structured fields for observability.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, errorType, errorCode := classify(err)

	logEvent := log.Error().
		Str("component", "api").
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", statusCode).
		Str("error_code", errorCode).
		Err(err)

	switch {
	case statusCode == http.StatusNotFound:
		logEvent.Msg("Resource not found")
	case statusCode >= 500:
		logEvent.Msg("Internal server error")
	default:
		logEvent.Msg("Client error")
	}

	writeJSONBody(w, statusCode, ErrorResponse{
		Error:   errorType,
		Code:    errorCode,
		Message: err.Error(),
	})
}

func classify(err error) (statusCode int, errorType, errorCode string) {
	var notFound *queue.NotFoundError
	var invalidState *job.InvalidStateError
	var duplicate *queue.AlreadyExistsError
	var snapshot *queue.SnapshotError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, "Not Found", "JOB_NOT_FOUND"
	case errors.Is(err, queue.ErrAlreadyActive):
		return http.StatusConflict, "Conflict", "ALREADY_ACTIVE"
	case errors.As(err, &invalidState):
		return http.StatusConflict, "Conflict", "INVALID_STATE"
	case errors.As(err, &duplicate):
		return http.StatusConflict, "Conflict", "JOB_EXISTS"
	case errors.As(err, &snapshot):
		return http.StatusInternalServerError, "Internal Server Error", "PERSISTENCE_ERROR"
	case errors.Is(err, sched.ErrStopped):
		return http.StatusServiceUnavailable, "Service Unavailable", "SCHEDULER_STOPPED"
	default:
		return http.StatusInternalServerError, "Internal Server Error", "INTERNAL_ERROR"
	}
}

// WriteJSONError writes a custom JSON error response with a specific status
// code, for cases not covered by the domain error mapping.
func WriteJSONError(w http.ResponseWriter, statusCode int, errorType, errorCode, message string) {
	writeJSONBody(w, statusCode, ErrorResponse{
		Error:   errorType,
		Code:    errorCode,
		Message: message,
	})
}

// WriteJSON writes a JSON response. Use this for successful API responses.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	writeJSONBody(w, statusCode, data)
}

func writeJSONBody(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().
			Str("component", "api").
			Err(err).
			Msg("Failed to encode JSON response")
	}
}
