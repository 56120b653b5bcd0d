package v1

import (
	"net/http"

	"github.com/millrun/millrun/pkg/server/api"
)

// HealthHandler handles GET /healthz. Liveness only: the process is up.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyHandler handles GET /readyz. Ready once the scheduler loop is running
// and the workspace is initialized.
func ReadyHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready == nil || !deps.Ready.Load() {
			api.WriteJSONError(w, http.StatusServiceUnavailable, "Service Unavailable", "NOT_READY", "scheduler not started")
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
