package handler

import (
	"net/http"

	"github.com/keralariders/server/internal/model"
)

type ProfileHandler struct {
	profiles Profiles
}

func NewProfileHandler(profiles Profiles) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

type updateProfileRequest struct {
	Updates model.ProfileUpdate `json:"updates"`
}

// HandleGet returns the caller's account.
//
// HTTP: GET /api/auth/update-profile
func (h *ProfileHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	user, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": user.AuthView()})
}

// HandleUpdate edits the caller's profile metadata.
//
// HTTP: POST /api/auth/update-profile {"updates": {"city": "Dubai"}}
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.profiles.Update(r.Context(), userID, req.Updates)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user.AuthView(),
		"message": "Profile updated successfully",
	})
}
