package handler_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/handler"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/service"
	"github.com/keralariders/server/internal/strava"
)

func newStravaHandler(m *MockStrava) *handler.StravaHandler {
	return handler.NewStravaHandler(m, auth.Cookies{}, siteURL, quietLogger())
}

// callback builds Strava's redirect back to us, optionally carrying the
// state cookie set on the first leg.
func callback(query, cookieState string) *http.Request {
	req := newRequest(http.MethodGet, "/api/auth/strava/connect?"+query, "", "")
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: auth.StravaStateCookie, Value: cookieState})
	}
	return req
}

func TestStravaHandler_HandleConnectRedirect(t *testing.T) {
	t.Run("starts the flow for the signed in rider", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newStravaHandler(&MockStrava{}).HandleConnectRedirect(rr,
			newRequest(http.MethodGet, "/api/auth/strava/connect?user_id=user-1", "", "user-1"))

		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
		assert.Equal(t, "https://strava.test/oauth/authorize?state=signed:user-1", rr.Header().Get("Location"))
		state := findCookie(rr, auth.StravaStateCookie)
		require.NotNil(t, state)
		assert.Equal(t, "signed:user-1", state.Value)
		assert.True(t, state.HttpOnly)
	})

	t.Run("needs a session", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newStravaHandler(&MockStrava{}).HandleConnectRedirect(rr,
			newRequest(http.MethodGet, "/api/auth/strava/connect?user_id=user-1", "", ""))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Nil(t, findCookie(rr, auth.StravaStateCookie))
	})

	t.Run("someone else's user id", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newStravaHandler(&MockStrava{}).HandleConnectRedirect(rr,
			newRequest(http.MethodGet, "/api/auth/strava/connect?user_id=user-2", "", "user-1"))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Equal(t, "Invalid user session", decodeBody(t, rr)["error"])
	})

	tests := []struct {
		name    string
		err     error
		wantLoc string
	}{
		{"connected", nil, siteURL + "/?strava_connected=true"},
		{"unknown user", apperror.NotFound("user", "user-1"), siteURL + "/?error=user_not_found"},
		{"persist failure", fmt.Errorf("%w: disk full", service.ErrCredentialsUpdate), siteURL + "/?error=update_failed"},
		{"exchange failure", fmt.Errorf("bad code"), siteURL + "/?error=strava_connect_failed"},
	}
	for _, tt := range tests {
		t.Run("callback "+tt.name, func(t *testing.T) {
			m := &MockStrava{ReturnConnect: &service.ConnectResult{User: testUser()}, ReturnErr: tt.err}
			rr := httptest.NewRecorder()
			newStravaHandler(m).HandleConnectRedirect(rr, callback("code=c0de&state=signed:user-1", "signed:user-1"))

			assert.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, tt.wantLoc, rr.Header().Get("Location"))
			assert.Equal(t, "user-1", m.CapturedUser)
			assert.Equal(t, "c0de", m.CapturedCode)
			cleared := findCookie(rr, auth.StravaStateCookie)
			require.NotNil(t, cleared)
			assert.Equal(t, -1, cleared.MaxAge)
		})
	}

	rejected := []struct {
		name, query, cookie string
	}{
		{"raw user id as state", "code=c0de&state=victim-user-id", "victim-user-id"},
		{"no state cookie", "code=c0de&state=signed:victim-user-id", ""},
		{"state from another browser", "code=c0de&state=signed:victim-user-id", "signed:user-1"},
		{"no state", "code=c0de", "signed:user-1"},
		{"tampered state", "code=c0de&state=signed:", "signed:"},
	}
	for _, tt := range rejected {
		t.Run("callback rejects "+tt.name, func(t *testing.T) {
			m := &MockStrava{}
			rr := httptest.NewRecorder()
			newStravaHandler(m).HandleConnectRedirect(rr, callback(tt.query, tt.cookie))

			assert.Equal(t, http.StatusSeeOther, rr.Code)
			assert.Equal(t, siteURL+"/?error=strava_connect_failed", rr.Header().Get("Location"))
			assert.False(t, m.ConnectCalled)
		})
	}

	t.Run("athlete denied access", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newStravaHandler(&MockStrava{}).HandleConnectRedirect(rr,
			callback("error=access_denied&state=signed:user-1", "signed:user-1"))

		assert.Equal(t, siteURL+"/?error=strava_connect_failed", rr.Header().Get("Location"))
	})
}

func TestStravaHandler_HandleConnect(t *testing.T) {
	t.Run("connects the caller", func(t *testing.T) {
		u := testUser()
		u.Strava = model.StravaCredentials{AccessToken: "a", RefreshToken: "r", AthleteID: 42}
		m := &MockStrava{ReturnConnect: &service.ConnectResult{
			User:    u,
			Athlete: strava.Athlete{ID: 42, Username: "arun_rides", FirstName: "Arun", LastName: "Nair"},
		}}
		rr := httptest.NewRecorder()
		newStravaHandler(m).HandleConnect(rr,
			newRequest(http.MethodPost, "/api/auth/strava/connect", `{"code":"c0de","user_id":"user-1"}`, "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{
			"success": true,
			"athlete": {"id": 42, "username": "arun_rides", "firstname": "Arun", "lastname": "Nair"},
			"message": "Strava connected successfully"
		}`, rr.Body.String())
	})

	t.Run("signed state for the caller", func(t *testing.T) {
		m := &MockStrava{ReturnConnect: &service.ConnectResult{User: testUser()}}
		rr := httptest.NewRecorder()
		newStravaHandler(m).HandleConnect(rr,
			newRequest(http.MethodPost, "/api/auth/strava/connect", `{"code":"c0de","state":"signed:user-1"}`, "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.True(t, m.ConnectCalled)
	})

	for name, body := range map[string]string{
		"someone else's user id": `{"code":"c0de","user_id":"user-2"}`,
		"someone else's state":   `{"code":"c0de","state":"signed:user-2"}`,
		"unsigned state":         `{"code":"c0de","state":"user-2"}`,
	} {
		t.Run(name, func(t *testing.T) {
			m := &MockStrava{}
			rr := httptest.NewRecorder()
			newStravaHandler(m).HandleConnect(rr,
				newRequest(http.MethodPost, "/api/auth/strava/connect", body, "user-1"))

			assert.Equal(t, http.StatusForbidden, rr.Code)
			assert.Equal(t, "Invalid user session", decodeBody(t, rr)["error"])
			assert.False(t, m.ConnectCalled)
		})
	}

	t.Run("code required", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newStravaHandler(&MockStrava{}).HandleConnect(rr,
			newRequest(http.MethodPost, "/api/auth/strava/connect", `{}`, "user-1"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "code is required", decodeBody(t, rr)["error"])
	})
}

func TestStravaHandler_HandleRefresh(t *testing.T) {
	exp := time.Unix(1750003600, 0).UTC()
	m := &MockStrava{ReturnCreds: &model.StravaCredentials{AccessToken: "fresh", ExpiresAt: &exp}}
	rr := httptest.NewRecorder()
	newStravaHandler(m).HandleRefresh(rr, newRequest(http.MethodPost, "/api/auth/strava/refresh", "", "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"access_token":"fresh","expires_at":1750003600}`, rr.Body.String())
	assert.Equal(t, "user-1", m.CapturedUser)

	rr = httptest.NewRecorder()
	newStravaHandler(m).HandleRefresh(rr,
		newRequest(http.MethodPost, "/api/auth/strava/refresh", `{"userId":"user-2"}`, "user-1"))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestStravaHandler_HandleStats(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		m := &MockStrava{ReturnStats: &strava.AthleteStats{BiggestRideDistance: 160000}}
		rr := httptest.NewRecorder()
		newStravaHandler(m).HandleStats(rr, newRequest(http.MethodGet, "/api/strava/stats", "", "user-1"))

		assert.Equal(t, http.StatusOK, rr.Code)
		data := decodeBody(t, rr)["data"].(map[string]any)
		assert.Equal(t, float64(160000), data["biggest_ride_distance"])
	})

	t.Run("not connected", func(t *testing.T) {
		m := &MockStrava{ReturnErr: service.ErrNoStravaCredentials}
		rr := httptest.NewRecorder()
		newStravaHandler(m).HandleStats(rr, newRequest(http.MethodGet, "/api/strava/stats", "", "user-1"))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "No Strava credentials found", decodeBody(t, rr)["error"])
	})
}

func TestStravaHandler_HandleDisconnect(t *testing.T) {
	m := &MockStrava{}
	rr := httptest.NewRecorder()
	newStravaHandler(m).HandleDisconnect(rr, newRequest(http.MethodPost, "/api/auth/strava/disconnect", "", "user-1"))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", m.CapturedUser)
}
