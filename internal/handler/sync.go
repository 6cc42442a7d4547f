package handler

import (
	"net/http"
)

type SyncHandler struct {
	syncer Syncer
}

func NewSyncHandler(syncer Syncer) *SyncHandler {
	return &SyncHandler{syncer: syncer}
}

// HandleSync pulls today's Strava activities for the caller.
//
// HTTP: POST /api/sync-activities
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.syncer.SyncToday(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res, "")
}

// HandleStatus describes the sync endpoint.
//
// HTTP: GET /api/sync-activities
func (h *SyncHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Strava Activity Sync API",
		"endpoints": map[string]string{
			"POST /api/sync-activities": "Sync today's activities for the authenticated user",
		},
		"status": "ready",
	})
}
