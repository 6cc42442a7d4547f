package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/service"
	"github.com/keralariders/server/internal/strava"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newRequest builds a request with an optional JSON body, an optional
// authenticated user and chi URL params given as key, value pairs.
func newRequest(method, target, body, userID string, params ...string) *http.Request {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	ctx := req.Context()
	if userID != "" {
		ctx = auth.WithUserID(ctx, userID)
	}
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for i := 0; i+1 < len(params); i += 2 {
			rctx.URLParams.Add(params[i], params[i+1])
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

// decodeBody decodes the recorder body into a generic map.
func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	return body
}

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func testUser() *model.User {
	confirmed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &model.User{
		ID:               "user-1",
		KRID:             "KR0001",
		Email:            "rider@example.com",
		Name:             "Arun",
		Provider:         model.ProviderEmail,
		IsActive:         true,
		IsEmailVerified:  true,
		EmailConfirmedAt: &confirmed,
	}
}

func testSession() *service.AuthResult {
	return &service.AuthResult{
		User: testUser(),
		Tokens: model.Tokens{
			AccessToken:  "access.jwt",
			RefreshToken: "refresh-opaque",
			ExpiresAt:    1750000000,
		},
	}
}

// ============================================================================
// Auth
// ============================================================================

type MockAuth struct {
	CapturedSignup  service.SignupInput
	CapturedEmail   string
	CapturedToken   string
	SignedOut       []string
	ReturnUser      *model.User
	ReturnResult    *service.AuthResult
	ReturnErr       error
	GoogleCalledFor *auth.GoogleUser
}

func (m *MockAuth) Signup(_ context.Context, in service.SignupInput) (*model.User, error) {
	m.CapturedSignup = in
	return m.ReturnUser, m.ReturnErr
}

func (m *MockAuth) Signin(_ context.Context, email, _ string) (*service.AuthResult, error) {
	m.CapturedEmail = email
	return m.ReturnResult, m.ReturnErr
}

func (m *MockAuth) VerifyOTP(_ context.Context, email, token string) (*service.AuthResult, error) {
	m.CapturedEmail, m.CapturedToken = email, token
	return m.ReturnResult, m.ReturnErr
}

func (m *MockAuth) ResendOTP(_ context.Context, email string) error {
	m.CapturedEmail = email
	return m.ReturnErr
}

func (m *MockAuth) RequestPasswordReset(_ context.Context, email string) error {
	m.CapturedEmail = email
	return m.ReturnErr
}

func (m *MockAuth) ConfirmPasswordReset(_ context.Context, email, token, _ string) error {
	m.CapturedEmail, m.CapturedToken = email, token
	return m.ReturnErr
}

func (m *MockAuth) Refresh(_ context.Context, refreshToken string) (*service.AuthResult, error) {
	m.CapturedToken = refreshToken
	return m.ReturnResult, m.ReturnErr
}

func (m *MockAuth) Signout(_ context.Context, refreshToken string) {
	m.SignedOut = append(m.SignedOut, refreshToken)
}

func (m *MockAuth) LoginWithGoogle(_ context.Context, gu *auth.GoogleUser) (*service.AuthResult, error) {
	m.GoogleCalledFor = gu
	return m.ReturnResult, m.ReturnErr
}

type MockGoogle struct {
	ReturnUser *auth.GoogleUser
	ReturnErr  error
}

func (m *MockGoogle) AuthURL(state string) string {
	return "https://accounts.google.test/auth?state=" + state
}

func (m *MockGoogle) Exchange(context.Context, string) (*auth.GoogleUser, error) {
	return m.ReturnUser, m.ReturnErr
}

// ============================================================================
// Events
// ============================================================================

type MockEvents struct {
	CapturedQuery   service.EventQuery
	CapturedViewer  string
	CapturedID      string
	CapturedCreate  model.CreateEventInput
	CapturedPatch   model.EventPatch
	CapturedLimit   int
	CapturedType    string
	CapturedPrivate bool
	ReturnEvent     *model.EventDetails
	ReturnList      []model.EventDetails
	ReturnJoin      *service.JoinResult
	ReturnPromoted  *model.EventParticipant
	ReturnUser      *model.UserEvents
	ReturnErr       error
}

func (m *MockEvents) Get(_ context.Context, id, viewerID string) (*model.EventDetails, error) {
	m.CapturedID, m.CapturedViewer = id, viewerID
	return m.ReturnEvent, m.ReturnErr
}

func (m *MockEvents) List(_ context.Context, q service.EventQuery, viewerID string) ([]model.EventDetails, error) {
	m.CapturedQuery, m.CapturedViewer = q, viewerID
	return m.ReturnList, m.ReturnErr
}

func (m *MockEvents) UserEvents(_ context.Context, krid, viewerID string, includePrivate bool, eventType string, limit int) (*model.UserEvents, error) {
	m.CapturedID, m.CapturedViewer = krid, viewerID
	m.CapturedPrivate, m.CapturedType, m.CapturedLimit = includePrivate, eventType, limit
	return m.ReturnUser, m.ReturnErr
}

func (m *MockEvents) Create(_ context.Context, creatorID string, in model.CreateEventInput) (*model.EventDetails, error) {
	m.CapturedViewer, m.CapturedCreate = creatorID, in
	return m.ReturnEvent, m.ReturnErr
}

func (m *MockEvents) Update(_ context.Context, id, callerID string, p model.EventPatch) (*model.EventDetails, error) {
	m.CapturedID, m.CapturedViewer, m.CapturedPatch = id, callerID, p
	return m.ReturnEvent, m.ReturnErr
}

func (m *MockEvents) Delete(_ context.Context, id, callerID string) error {
	m.CapturedID, m.CapturedViewer = id, callerID
	return m.ReturnErr
}

func (m *MockEvents) Join(_ context.Context, eventID, userID string) (*service.JoinResult, error) {
	m.CapturedID, m.CapturedViewer = eventID, userID
	return m.ReturnJoin, m.ReturnErr
}

func (m *MockEvents) Leave(_ context.Context, eventID, userID string) (*model.EventParticipant, error) {
	m.CapturedID, m.CapturedViewer = eventID, userID
	return m.ReturnPromoted, m.ReturnErr
}

// ============================================================================
// Strava, profile, activities, sync
// ============================================================================

// MockStrava signs a state as "signed:<user id>" and accepts only that form.
type MockStrava struct {
	CapturedUser  string
	CapturedCode  string
	ConnectCalled bool
	ReturnConnect *service.ConnectResult
	ReturnCreds   *model.StravaCredentials
	ReturnStats   *strava.AthleteStats
	ReturnErr     error
}

func (m *MockStrava) ConnectURL(userID string) (string, string, error) {
	state := "signed:" + userID
	return "https://strava.test/oauth/authorize?state=" + state, state, nil
}

func (m *MockStrava) VerifyConnectState(state string) (string, error) {
	userID, ok := strings.CutPrefix(state, "signed:")
	if !ok || userID == "" {
		return "", service.ErrInvalidConnectState
	}
	return userID, nil
}

func (m *MockStrava) Connect(_ context.Context, userID, code string) (*service.ConnectResult, error) {
	m.ConnectCalled = true
	m.CapturedUser, m.CapturedCode = userID, code
	return m.ReturnConnect, m.ReturnErr
}

func (m *MockStrava) Refresh(_ context.Context, userID string) (*model.StravaCredentials, error) {
	m.CapturedUser = userID
	return m.ReturnCreds, m.ReturnErr
}

func (m *MockStrava) Disconnect(_ context.Context, userID string) error {
	m.CapturedUser = userID
	return m.ReturnErr
}

func (m *MockStrava) Stats(_ context.Context, userID string) (*strava.AthleteStats, error) {
	m.CapturedUser = userID
	return m.ReturnStats, m.ReturnErr
}

type MockProfiles struct {
	CapturedUpdate model.ProfileUpdate
	ReturnUser     *model.User
	ReturnErr      error
}

func (m *MockProfiles) Get(context.Context, string) (*model.User, error) {
	return m.ReturnUser, m.ReturnErr
}

func (m *MockProfiles) Update(_ context.Context, _ string, upd model.ProfileUpdate) (*model.User, error) {
	m.CapturedUpdate = upd
	return m.ReturnUser, m.ReturnErr
}

type MockActivities struct {
	CapturedUser  string
	CapturedInput model.ActivityInput
	CapturedQuery model.ActivityQuery
	ReturnAct     *model.Activity
	ReturnPage    *model.ActivityPage
	ReturnErr     error
}

func (m *MockActivities) Add(_ context.Context, userID string, in model.ActivityInput) (*model.Activity, error) {
	m.CapturedUser, m.CapturedInput = userID, in
	return m.ReturnAct, m.ReturnErr
}

func (m *MockActivities) List(_ context.Context, q model.ActivityQuery) (*model.ActivityPage, error) {
	m.CapturedQuery = q
	return m.ReturnPage, m.ReturnErr
}

type MockSyncer struct {
	CapturedUser string
	ReturnRes    *service.SyncResult
	ReturnErr    error
}

func (m *MockSyncer) SyncToday(_ context.Context, userID string) (*service.SyncResult, error) {
	m.CapturedUser = userID
	return m.ReturnRes, m.ReturnErr
}

type MockPinger struct {
	ReturnErr error
}

func (m *MockPinger) Ping(context.Context) error { return m.ReturnErr }
