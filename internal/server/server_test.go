package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/config"
	"github.com/keralariders/server/internal/model"
)

func newTestServer(t *testing.T, mutate ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.JWTSecret = "test-secret-0123456789"
	cfg.Timezone = "UTC"
	cfg.SiteURL = "https://riders.example"
	for _, m := range mutate {
		m(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// rider stores a verified user and returns it with a bearer token.
func rider(t *testing.T, s *Server, email string) (*model.User, string) {
	t.Helper()
	u := &model.User{Email: email, Name: "Rider", IsActive: true, IsEmailVerified: true}
	require.NoError(t, s.db.Users().Create(context.Background(), u))
	tok, _, err := s.tokens.Generate(u.ID)
	require.NoError(t, err)
	return u, tok
}

func do(t *testing.T, s *Server, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = ":memory:"
	cfg.JWTSecret = "short"
	_, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rr, body := do(t, s, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", body["status"])

	rr, _ = do(t, s, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "keralariders_http_requests_total")
}

func TestProtectedRoutesNeedAToken(t *testing.T) {
	s := newTestServer(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/api/events"},
		{http.MethodPost, "/api/events/e1/join"},
		{http.MethodGet, "/api/auth/update-profile"},
		{http.MethodGet, "/api/user/activity/get-all"},
		{http.MethodPost, "/api/sync-activities"},
		{http.MethodGet, "/api/strava/stats"},
	} {
		rr, body := do(t, s, route.method, route.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, route.path)
		assert.Equal(t, "Authorization header with Bearer token required", body["error"], route.path)
	}

	rr, body := do(t, s, http.MethodPost, "/api/events", "not-a-jwt", "{}")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid or expired token", body["error"])
}

func TestEventLifecycle(t *testing.T) {
	s := newTestServer(t)
	_, ownerTok := rider(t, s, "owner@example.com")
	first, firstTok := rider(t, s, "first@example.com")
	_, secondTok := rider(t, s, "second@example.com")

	date := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)
	rr, body := do(t, s, http.MethodPost, "/api/events", ownerTok,
		`{"title":"<b>Hatta</b> loop","date":"`+date+`","location":"Hatta","category":"ride","maxParticipants":1}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	event := body["data"].(map[string]any)
	assert.Equal(t, "Hatta loop", event["title"])
	id := event["id"].(string)

	rr, body = do(t, s, http.MethodPost, "/api/events/"+id+"/join", firstTok, "")
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, model.StatusRegistered, body["data"].(map[string]any)["status"])

	rr, body = do(t, s, http.MethodPost, "/api/events/"+id+"/join", secondTok, "")
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "Event is full. You have been added to the waitlist", body["message"])

	rr, _ = do(t, s, http.MethodPost, "/api/events/"+id+"/join", secondTok, "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, _ = do(t, s, http.MethodPut, "/api/events/"+id, firstTok, `{"title":"Mine now"}`)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, body = do(t, s, http.MethodPost, "/api/events/"+id+"/leave", firstTok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	promoted := body["data"].(map[string]any)["promoted"].(map[string]any)
	assert.NotEqual(t, first.ID, promoted["userId"])
	assert.Equal(t, model.StatusRegistered, promoted["status"])

	rr, body = do(t, s, http.MethodGet, "/api/events/"+id, "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(1), body["data"].(map[string]any)["participantCount"])

	rr, _ = do(t, s, http.MethodDelete, "/api/events/"+id, ownerTok, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr, body = do(t, s, http.MethodGet, "/api/events", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(0), body["count"])
}

func TestActivityAddAndList(t *testing.T) {
	s := newTestServer(t)
	u, tok := rider(t, s, "runner@example.com")

	act := `{"activity":{"id":"15243219876","name":"Evening Run","type":"Run","distance":5000,"movingTime":1500,"startDate":"2025-06-01T17:00:00Z"}}`
	rr, body := do(t, s, http.MethodPost, "/api/user/activity/add", tok, act)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "15243219876", body["data"].(map[string]any)["id"])

	rr, _ = do(t, s, http.MethodPost, "/api/user/activity/add", tok, act)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, body = do(t, s, http.MethodGet, "/api/user/activity/get-all?krid="+u.KRID, tok, "")
	require.Equal(t, http.StatusOK, rr.Code)
	page := body["data"].(map[string]any)
	assert.Len(t, page["activities"], 1)
	assert.Equal(t, float64(1), page["pagination"].(map[string]any)["total"])
}

func TestSyncRequiresStrava(t *testing.T) {
	s := newTestServer(t)
	_, tok := rider(t, s, "nostrava@example.com")

	rr, body := do(t, s, http.MethodPost, "/api/sync-activities", tok, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Strava not connected. Please connect your Strava account first.", body["error"])

	stats, err := s.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalUsers)
}

func TestAuthTierIsRateLimited(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.RateLimit.AuthPerMinute = 2 })

	for range 2 {
		rr, _ := do(t, s, http.MethodPost, "/api/auth/signin", "", `{"email":"x@example.com","password":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	}
	rr, _ := do(t, s, http.MethodPost, "/api/auth/signin", "", `{"email":"x@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// The public tier has its own budget.
	rr, _ = do(t, s, http.MethodGet, "/api/events", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGoogleDisabledRedirects(t *testing.T) {
	s := newTestServer(t)
	rr, _ := do(t, s, http.MethodGet, "/api/auth/google/callback?code=x&state=y", "", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "https://riders.example/auth/error?error=google_not_configured", rr.Header().Get("Location"))
}

func TestStravaCallbackNeedsSignedState(t *testing.T) {
	s := newTestServer(t)
	victim, victimTok := rider(t, s, "victim@example.com")

	rr, _ := do(t, s, http.MethodGet, "/api/auth/strava/connect?code=attacker-code&state="+victim.ID, "", "")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "https://riders.example/?error=strava_connect_failed", rr.Header().Get("Location"))

	stored, err := s.db.Users().GetByID(context.Background(), victim.ID)
	require.NoError(t, err)
	assert.False(t, stored.Strava.Connected())

	rr, _ = do(t, s, http.MethodGet, "/api/auth/strava/connect?user_id="+victim.ID, "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = do(t, s, http.MethodGet, "/api/auth/strava/connect", victimTok, "")
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	assert.NotEqual(t, victim.ID, state)

	var pinned string
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.StravaStateCookie {
			pinned = c.Value
		}
	}
	assert.Equal(t, state, pinned)

	sub, err := s.tokens.VerifyState(state, "strava-connect")
	require.NoError(t, err)
	assert.Equal(t, victim.ID, sub)
}

func TestPasswordChangeRevokesAccessTokens(t *testing.T) {
	s := newTestServer(t)
	u, tok := rider(t, s, "rider@example.com")

	rr, _ := do(t, s, http.MethodGet, "/api/auth/update-profile", tok, "")
	require.Equal(t, http.StatusOK, rr.Code)

	changed := time.Now().Add(time.Minute)
	u.PasswordChangedAt = &changed
	require.NoError(t, s.db.Users().Update(context.Background(), u))

	rr, body := do(t, s, http.MethodGet, "/api/auth/update-profile", tok, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Invalid or expired token", body["error"])
}
