package v1

import (
	"net/http"

	"github.com/spf13/cast"

	"github.com/millrun/millrun/pkg/server/api"
)

const defaultHistoryLimit = 20

// HistoryHandler handles GET /api/v1/history.
//
// Query params:
//   - limit: maximum entries to return (default 20, capped by the store)
func HistoryHandler(deps *api.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Archive == nil {
			api.WriteJSONError(w, http.StatusNotFound, "Not Found", "ARCHIVE_DISABLED", "run history is disabled")
			return
		}

		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := cast.ToIntE(raw)
			if err != nil || n <= 0 {
				api.WriteJSONError(w, http.StatusBadRequest, "Bad Request", "INVALID_INPUT", "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := deps.Archive.List(r.Context(), limit)
		if err != nil {
			api.WriteError(w, r, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}
