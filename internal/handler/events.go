package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/service"
)

// EventHandler serves event CRUD and participation.
type EventHandler struct {
	events Events
	logger *slog.Logger
}

func NewEventHandler(events Events, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// listResponse is the body of GET /api/events: the envelope plus a count.
type listResponse struct {
	Success bool                 `json:"success"`
	Data    []model.EventDetails `json:"data"`
	Count   int                  `json:"count"`
}

// HandleList lists active events.
//
// HTTP: GET /api/events?category=&difficulty=&dateFrom=&dateTo=&location=
func (h *EventHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	events, err := h.events.List(r.Context(), service.EventQuery{
		Category:   q.Get("category"),
		Difficulty: q.Get("difficulty"),
		DateFrom:   q.Get("dateFrom"),
		DateTo:     q.Get("dateTo"),
		Location:   q.Get("location"),
	}, viewer(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []model.EventDetails{}
	}
	writeJSON(w, http.StatusOK, listResponse{Success: true, Data: events, Count: len(events)})
}

// HandleCreate creates an event owned by the caller.
//
// HTTP: POST /api/events
func (h *EventHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in model.CreateEventInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	event, err := h.events.Create(r.Context(), userID, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, event, "Event created successfully")
}

// HandleGet returns one event.
//
// HTTP: GET /api/events/{id}
func (h *EventHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	event, err := h.events.Get(r.Context(), chi.URLParam(r, "id"), viewer(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, event, "")
}

// HandleUpdate applies a partial update. Only the creator may call it.
//
// HTTP: PUT /api/events/{id}
func (h *EventHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var patch model.EventPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}
	event, err := h.events.Update(r.Context(), chi.URLParam(r, "id"), userID, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, event, "Event updated successfully")
}

// HandleDelete soft-deletes an event.
//
// HTTP: DELETE /api/events/{id}
func (h *EventHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.events.Delete(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil, "Event deleted successfully")
}

// HandleJoin registers the caller, or waitlists them when the event is full.
//
// HTTP: POST /api/events/{id}/join
func (h *EventHandler) HandleJoin(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := h.events.Join(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	msg := "Successfully joined the event"
	if res.Status == model.StatusWaitlist {
		msg = "Event is full. You have been added to the waitlist"
	}
	writeData(w, http.StatusCreated, map[string]any{
		"participation": res.Participation,
		"status":        res.Status,
	}, msg)
}

// HandleLeave removes the caller. A freed slot goes to the next in line.
//
// HTTP: POST /api/events/{id}/leave
func (h *EventHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	promoted, err := h.events.Leave(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	var data any
	if promoted != nil {
		data = map[string]any{"promoted": promoted}
	}
	writeData(w, http.StatusOK, data, "Successfully left the event")
}

// HandleUserEvents lists what a rider created and joined.
//
// HTTP: GET /api/users/{krid}/events?includePrivate=false&type=all&limit=10
func (h *EventHandler) HandleUserEvents(w http.ResponseWriter, r *http.Request) {
	viewerID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeError(w, err)
		return
	}
	includePrivate, _ := strconv.ParseBool(r.URL.Query().Get("includePrivate"))

	out, err := h.events.UserEvents(r.Context(), chi.URLParam(r, "krid"), viewerID,
		includePrivate, r.URL.Query().Get("type"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, out, "")
}
