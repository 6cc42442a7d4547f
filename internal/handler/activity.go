package handler

import (
	"net/http"
	"strconv"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
)

type ActivityHandler struct {
	activities Activities
}

func NewActivityHandler(activities Activities) *ActivityHandler {
	return &ActivityHandler{activities: activities}
}

type addActivityRequest struct {
	Activity *model.ActivityInput `json:"activity"`
}

// HandleAdd stores one activity for the caller.
//
// HTTP: POST /api/user/activity/add {"activity": {...}}
func (h *ActivityHandler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req addActivityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Activity == nil {
		writeError(w, apperror.ValidationFailed("activity", "Activity data is required"))
		return
	}

	a, err := h.activities.Add(r.Context(), userID, *req.Activity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"activity": a,
		"id":       strconv.FormatInt(a.ID, 10),
	}, "Activity created successfully")
}

// HandleList pages through a rider's activities, newest first.
//
// HTTP: GET /api/user/activity/get-all?krid=KR0001&sportType=Ride&limit=50&offset=0
func (h *ActivityHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if _, err := currentUser(r); err != nil {
		writeError(w, err)
		return
	}

	q := r.URL.Query()
	query := model.ActivityQuery{
		Email:     q.Get("email"),
		KRID:      q.Get("krid"),
		SportType: q.Get("sportType"),
	}
	var err error
	if query.Limit, err = queryInt(r, "limit", 0); err != nil {
		writeError(w, err)
		return
	}
	if query.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, err)
		return
	}
	if query.StartDate, err = queryTime(r, "startDate"); err != nil {
		writeError(w, err)
		return
	}
	if query.EndDate, err = queryTime(r, "endDate"); err != nil {
		writeError(w, err)
		return
	}

	page, err := h.activities.List(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, page, "")
}
