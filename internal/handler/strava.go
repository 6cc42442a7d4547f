package handler

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/service"
	"github.com/keralariders/server/internal/strava"
)

// StravaHandler links a rider's account to Strava.
type StravaHandler struct {
	strava  StravaLink
	cookies auth.Cookies
	siteURL string
	logger  *slog.Logger
}

func NewStravaHandler(strava StravaLink, cookies auth.Cookies, siteURL string, logger *slog.Logger) *StravaHandler {
	return &StravaHandler{strava: strava, cookies: cookies, siteURL: strings.TrimRight(siteURL, "/"), logger: logger}
}

type stravaConnectRequest struct {
	Code   string `json:"code" validate:"required"`
	State  string `json:"state"`
	UserID string `json:"user_id"`
}

type stravaRefreshRequest struct {
	UserID string `json:"userId"`
}

type stravaConnectResponse struct {
	Success bool           `json:"success"`
	Athlete strava.Athlete `json:"athlete"`
	Message string         `json:"message"`
}

var errInvalidSession = apperror.Forbidden("Invalid user session")

// HandleConnectRedirect runs both legs of the browser flow.
//
// HTTP: GET /api/auth/strava/connect[?user_id=xxx] → redirect to Strava
// HTTP: GET /api/auth/strava/connect?code=&state=  → Strava's callback
//
// The first leg needs a signed-in rider. The state it sends to Strava is a
// signed token for that rider, also pinned to the browser in a cookie; the
// callback accepts only a state that matches the cookie and verifies.
func (h *StravaHandler) HandleConnectRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	code := q.Get("code")

	if code == "" {
		if q.Get("error") != "" {
			h.cookies.ClearStravaState(w)
			h.redirect(w, r, "error", "strava_connect_failed")
			return
		}
		h.startConnect(w, r, q.Get("user_id"))
		return
	}

	state := q.Get("state")
	h.cookies.ClearStravaState(w)
	pinned, err := r.Cookie(auth.StravaStateCookie)
	if state == "" || err != nil ||
		subtle.ConstantTimeCompare([]byte(pinned.Value), []byte(state)) != 1 {
		h.logger.Warn("strava callback state does not match this browser")
		h.redirect(w, r, "error", "strava_connect_failed")
		return
	}
	userID, err := h.strava.VerifyConnectState(state)
	if err != nil {
		h.redirect(w, r, "error", "strava_connect_failed")
		return
	}

	if _, err := h.strava.Connect(r.Context(), userID, code); err != nil {
		h.logger.Error("strava connect failed",
			slog.String("user_id", userID), slog.String("error", err.Error()))
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			h.redirect(w, r, "error", "user_not_found")
		case errors.Is(err, service.ErrCredentialsUpdate):
			h.redirect(w, r, "error", "update_failed")
		default:
			h.redirect(w, r, "error", "strava_connect_failed")
		}
		return
	}
	h.redirect(w, r, "strava_connected", "true")
}

func (h *StravaHandler) startConnect(w http.ResponseWriter, r *http.Request, claimed string) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if claimed != "" && claimed != userID {
		writeError(w, errInvalidSession)
		return
	}

	authURL, state, err := h.strava.ConnectURL(userID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cookies.SetStravaState(w, state)
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// HandleConnect completes the flow for an app that captured the code itself.
//
// HTTP: POST /api/auth/strava/connect {"code": "...", "user_id": "..."}
func (h *StravaHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req stravaConnectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID != "" && req.UserID != userID {
		writeError(w, errInvalidSession)
		return
	}
	// A state from ConnectURL must name the caller; a bare user id is
	// compared as is.
	if req.State != "" && req.State != userID {
		stateUser, err := h.strava.VerifyConnectState(req.State)
		if err != nil || stateUser != userID {
			writeError(w, errInvalidSession)
			return
		}
	}

	res, err := h.strava.Connect(r.Context(), userID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stravaConnectResponse{
		Success: true,
		Athlete: res.Athlete,
		Message: "Strava connected successfully",
	})
}

// HandleRefresh forces a token refresh.
//
// HTTP: POST /api/auth/strava/refresh
func (h *StravaHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req stravaRefreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.UserID != "" && req.UserID != userID {
		writeError(w, errInvalidSession)
		return
	}

	creds, err := h.strava.Refresh(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	var expiresAt int64
	if creds.ExpiresAt != nil {
		expiresAt = creds.ExpiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"access_token": creds.AccessToken,
		"expires_at":   expiresAt,
	})
}

// HandleDisconnect forgets the stored tokens.
//
// HTTP: POST /api/auth/strava/disconnect
func (h *StravaHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.strava.Disconnect(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil, "Strava disconnected")
}

// HandleStats proxies the athlete's Strava totals.
//
// HTTP: GET /api/strava/stats
func (h *StravaHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUser(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := h.strava.Stats(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, stats, "")
}

func (h *StravaHandler) redirect(w http.ResponseWriter, r *http.Request, key, value string) {
	q := url.Values{key: {value}}
	http.Redirect(w, r, h.siteURL+"/?"+q.Encode(), http.StatusSeeOther)
}
