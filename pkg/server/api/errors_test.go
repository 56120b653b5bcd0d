package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/millrun/millrun/pkg/job"
	"github.com/millrun/millrun/pkg/queue"
	"github.com/millrun/millrun/pkg/sched"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestWriteError_Mapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "not found",
			err:        &queue.NotFoundError{ID: "x"},
			wantStatus: http.StatusNotFound,
			wantCode:   "JOB_NOT_FOUND",
		},
		{
			name:       "already active",
			err:        queue.ErrAlreadyActive,
			wantStatus: http.StatusConflict,
			wantCode:   "ALREADY_ACTIVE",
		},
		{
			name:       "invalid state",
			err:        &job.InvalidStateError{ID: "x", Status: job.StatusRunning, Op: "start"},
			wantStatus: http.StatusConflict,
			wantCode:   "INVALID_STATE",
		},
		{
			name:       "duplicate",
			err:        &queue.AlreadyExistsError{ID: "x"},
			wantStatus: http.StatusConflict,
			wantCode:   "JOB_EXISTS",
		},
		{
			name:       "snapshot failure",
			err:        &queue.SnapshotError{Op: "load", Path: "/p", Err: errors.New("io")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "PERSISTENCE_ERROR",
		},
		{
			name:       "scheduler stopped",
			err:        sched.ErrStopped,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "SCHEDULER_STOPPED",
		},
		{
			name:       "generic",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/x", nil)

			WriteError(rec, req, tt.err)

			require.Equal(t, tt.wantStatus, rec.Code)
			require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			resp := decodeError(t, rec)
			require.Equal(t, tt.wantCode, resp.Code)
			require.NotEmpty(t, resp.Message)
		})
	}
}

func TestWriteError_WrappedErrorsUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/x/start", nil)

	wrapped := errors.Join(errors.New("context"), queue.ErrAlreadyActive)
	WriteError(rec, req, wrapped)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "abc", body["id"])
}

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "Bad Request", "INVALID_INPUT", "name is required")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	require.Equal(t, "INVALID_INPUT", resp.Code)
	require.Equal(t, "name is required", resp.Message)
}
