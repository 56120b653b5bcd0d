// Package v1 contains the versioned HTTP API handlers.
package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/millrun/millrun/pkg/job"
	"github.com/millrun/millrun/pkg/server/api"
)

// CreateJobRequest is the payload for POST /api/v1/jobs.
//
// Exactly one of Program or SourcePath must be set: Program references a file
// already imported into the workspace, SourcePath imports a file from disk.
type CreateJobRequest struct {
	Name       string `json:"name"`
	Type       string `json:"job_type"`
	Priority   int    `json:"priority"`
	Program    string `json:"program,omitempty"`
	SourcePath string `json:"source_path,omitempty"`
}

// ResumeResponse is the payload returned by POST /api/v1/jobs/{id}/resume.
type ResumeResponse struct {
	ID         string `json:"id"`
	ResumeLine int    `json:"resume_line"`
}

// ListJobsHandler handles GET /api/v1/jobs.
//
// Returns all jobs in insertion order plus the set of currently active ids:
//
//	{
//	  "jobs": [...],
//	  "active": ["<id>"]
//	}
func ListJobsHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := deps.Scheduler.Jobs()
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		active, err := deps.Scheduler.ActiveIDs()
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"jobs":   jobs,
			"active": active,
		})
	}
}

// CreateJobHandler handles POST /api/v1/jobs.
func CreateJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_BODY", err.Error())
			return
		}
		if req.Name == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_INPUT", "name is required")
			return
		}
		jobType := job.Type(req.Type)
		if req.Type == "" {
			jobType = job.TypeFileRun
		}
		if !jobType.IsValid() {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_INPUT", "unknown job_type "+req.Type)
			return
		}
		if req.Program == "" && req.SourcePath == "" {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_INPUT", "program or source_path is required")
			return
		}

		j := job.New(req.Name, jobType, req.Priority)
		if req.SourcePath != "" {
			ref, total, err := deps.Workspace.ImportProgram(r.Context(), req.SourcePath)
			if err != nil {
				api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_INPUT", err.Error())
				return
			}
			j.Program = ref
			j.TotalLines = total
		} else {
			j.Program = req.Program
		}

		if err := deps.Scheduler.AddJob(j); err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusCreated, j)
	}
}

// GetJobHandler handles GET /api/v1/jobs/{id}.
func GetJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Scheduler.Job(chi.URLParam(r, "id"))
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, j)
	}
}

// DeleteJobHandler handles DELETE /api/v1/jobs/{id}.
func DeleteJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Scheduler.RemoveJob(chi.URLParam(r, "id")); err != nil {
			api.WriteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// StartJobHandler handles POST /api/v1/jobs/{id}/start.
func StartJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Scheduler.StartJob(id); err != nil {
			api.WriteError(w, r, err)
			return
		}
		j, err := deps.Scheduler.Job(id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, j)
	}
}

// ResumeJobHandler handles POST /api/v1/jobs/{id}/resume.
//
// The response carries the resume line: the last confirmed line, which is
// re-dispatched rather than skipped.
func ResumeJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		line, err := deps.Scheduler.ResumeJob(id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, ResumeResponse{ID: id, ResumeLine: line})
	}
}

// CancelJobHandler handles POST /api/v1/jobs/{id}/cancel.
func CancelJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Scheduler.CancelJob(id); err != nil {
			api.WriteError(w, r, err)
			return
		}
		j, err := deps.Scheduler.Job(id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, j)
	}
}

// InterruptJobRequest is the payload for POST /api/v1/jobs/{id}/interrupt.
type InterruptJobRequest struct {
	// Line is the last confirmed line to bookmark (operator feed hold).
	Line int `json:"line"`
}

// InterruptJobHandler handles POST /api/v1/jobs/{id}/interrupt.
func InterruptJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req InterruptJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_BODY", err.Error())
			return
		}
		j, err := deps.Scheduler.Job(id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		if req.Line < 0 {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_INPUT",
				"line must not be negative")
			return
		}
		if j.TotalLines > 0 && req.Line >= j.TotalLines {
			api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_INPUT",
				fmt.Sprintf("line %d out of range for program of %d lines", req.Line, j.TotalLines))
			return
		}
		if err := deps.Scheduler.InterruptJob(id, req.Line); err != nil {
			api.WriteError(w, r, err)
			return
		}
		j, err = deps.Scheduler.Job(id)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, j)
	}
}

// SaveQueueHandler handles POST /api/v1/queue/save.
func SaveQueueHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Scheduler.SaveQueue(); err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "saved"})
	}
}

// LoadQueueHandler handles POST /api/v1/queue/load.
func LoadQueueHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Scheduler.LoadQueue(); err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
	}
}

// NextJobHandler handles GET /api/v1/queue/next: the job the scheduler would
// dispatch next, without starting it.
func NextJobHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Scheduler.NextPending()
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		if j == nil {
			api.WriteJSONError(w, http.StatusNotFound, "Not Found", "QUEUE_EMPTY", "no pending jobs")
			return
		}
		api.WriteJSON(w, http.StatusOK, j)
	}
}
