package handler_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/handler"
	"github.com/keralariders/server/internal/service"
)

const siteURL = "https://riders.example"

func newAuthHandler(m *MockAuth, g handler.GoogleOAuth) *handler.AuthHandler {
	return handler.NewAuthHandler(m, g, auth.Cookies{}, siteURL+"/", quietLogger())
}

func TestAuthHandler_HandleSignup(t *testing.T) {
	t.Run("valid signup", func(t *testing.T) {
		m := &MockAuth{ReturnUser: testUser()}
		h := newAuthHandler(m, nil)

		body := `{"email":"rider@example.com","password":"secret123","userData":{"full_name":"Arun","city":"Dubai"}}`
		rr := httptest.NewRecorder()
		h.HandleSignup(rr, newRequest(http.MethodPost, "/api/auth/signup", body, ""))

		assert.Equal(t, http.StatusOK, rr.Code)
		res := decodeBody(t, rr)
		assert.Equal(t, true, res["success"])
		assert.Equal(t, true, res["requiresConfirmation"])
		assert.Equal(t, "Please check your email to confirm your account", res["message"])

		assert.Equal(t, "rider@example.com", m.CapturedSignup.Email)
		require.NotNil(t, m.CapturedSignup.UserData.City)
		assert.Equal(t, "Dubai", *m.CapturedSignup.UserData.City)
	})

	t.Run("invalid email is rejected before the service", func(t *testing.T) {
		m := &MockAuth{}
		rr := httptest.NewRecorder()
		newAuthHandler(m, nil).HandleSignup(rr,
			newRequest(http.MethodPost, "/api/auth/signup", `{"email":"nope","password":"secret123"}`, ""))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Invalid email address", decodeBody(t, rr)["error"])
		assert.Empty(t, m.CapturedSignup.Email)
	})

	t.Run("missing body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newAuthHandler(&MockAuth{}, nil).HandleSignup(rr, newRequest(http.MethodPost, "/api/auth/signup", "", ""))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "Request body is required", decodeBody(t, rr)["error"])
	})

	t.Run("missing password names the json field", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newAuthHandler(&MockAuth{}, nil).HandleSignup(rr,
			newRequest(http.MethodPost, "/api/auth/signup", `{"email":"rider@example.com"}`, ""))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "password is required", decodeBody(t, rr)["error"])
	})

	t.Run("already registered", func(t *testing.T) {
		m := &MockAuth{ReturnErr: apperror.New(apperror.ErrConflict, service.MsgAlreadyRegistered)}
		rr := httptest.NewRecorder()
		newAuthHandler(m, nil).HandleSignup(rr,
			newRequest(http.MethodPost, "/api/auth/signup", `{"email":"rider@example.com","password":"secret123"}`, ""))

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, service.MsgAlreadyRegistered, decodeBody(t, rr)["error"])
	})
}

func TestAuthHandler_HandleSignin(t *testing.T) {
	t.Run("sets cookies and returns the session", func(t *testing.T) {
		m := &MockAuth{ReturnResult: testSession()}
		rr := httptest.NewRecorder()
		newAuthHandler(m, nil).HandleSignin(rr,
			newRequest(http.MethodPost, "/api/auth/signin", `{"email":"rider@example.com","password":"secret123"}`, ""))

		assert.Equal(t, http.StatusOK, rr.Code)
		res := decodeBody(t, rr)
		assert.Equal(t, "Signed in successfully", res["message"])

		session := res["session"].(map[string]any)
		assert.Equal(t, "access.jwt", session["access_token"])
		user := res["user"].(map[string]any)
		assert.Equal(t, "user-1", user["id"])
		assert.Equal(t, "KR0001", user["user_metadata"].(map[string]any)["krid"])

		access := findCookie(rr, auth.AccessCookie)
		require.NotNil(t, access)
		assert.Equal(t, "access.jwt", access.Value)
		assert.True(t, access.HttpOnly)
		require.NotNil(t, findCookie(rr, auth.RefreshCookie))
	})

	t.Run("wrong password", func(t *testing.T) {
		m := &MockAuth{ReturnErr: apperror.Unauthorized(service.MsgInvalidCredentials)}
		rr := httptest.NewRecorder()
		newAuthHandler(m, nil).HandleSignin(rr,
			newRequest(http.MethodPost, "/api/auth/signin", `{"email":"rider@example.com","password":"bad"}`, ""))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, service.MsgInvalidCredentials, decodeBody(t, rr)["error"])
		assert.Nil(t, findCookie(rr, auth.AccessCookie))
	})
}

func TestAuthHandler_HandleVerifyOTP(t *testing.T) {
	m := &MockAuth{ReturnResult: testSession()}
	rr := httptest.NewRecorder()
	newAuthHandler(m, nil).HandleVerifyOTP(rr,
		newRequest(http.MethodPost, "/api/auth/verify-otp", `{"email":"rider@example.com","token":" 123456 "}`, ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "123456", m.CapturedToken)
	assert.Equal(t, "Email verified successfully", decodeBody(t, rr)["message"])
	assert.NotNil(t, findCookie(rr, auth.AccessCookie))
}

func TestAuthHandler_HandleResendOTP_RateLimited(t *testing.T) {
	m := &MockAuth{ReturnErr: apperror.RateLimited(service.MsgResendTooSoon)}
	rr := httptest.NewRecorder()
	newAuthHandler(m, nil).HandleResendOTP(rr,
		newRequest(http.MethodPost, "/api/auth/resend-otp", `{"email":"rider@example.com"}`, ""))

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, service.MsgResendTooSoon, decodeBody(t, rr)["error"])
}

func TestAuthHandler_HandleRefresh(t *testing.T) {
	t.Run("token from cookie", func(t *testing.T) {
		m := &MockAuth{ReturnResult: testSession()}
		req := newRequest(http.MethodPost, "/api/auth/refresh", "", "")
		req.AddCookie(&http.Cookie{Name: auth.RefreshCookie, Value: "from-cookie"})
		rr := httptest.NewRecorder()
		newAuthHandler(m, nil).HandleRefresh(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "from-cookie", m.CapturedToken)
	})

	t.Run("body wins over cookie", func(t *testing.T) {
		m := &MockAuth{ReturnResult: testSession()}
		req := newRequest(http.MethodPost, "/api/auth/refresh", `{"refresh_token":"from-body"}`, "")
		req.AddCookie(&http.Cookie{Name: auth.RefreshCookie, Value: "from-cookie"})
		rr := httptest.NewRecorder()
		newAuthHandler(m, nil).HandleRefresh(rr, req)

		assert.Equal(t, "from-body", m.CapturedToken)
	})

	t.Run("failure clears cookies", func(t *testing.T) {
		m := &MockAuth{ReturnErr: apperror.Unauthorized(service.MsgInvalidSession)}
		rr := httptest.NewRecorder()
		newAuthHandler(m, nil).HandleRefresh(rr, newRequest(http.MethodPost, "/api/auth/refresh", "", ""))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		c := findCookie(rr, auth.AccessCookie)
		require.NotNil(t, c)
		assert.Less(t, c.MaxAge, 0)
	})
}

func TestAuthHandler_HandleSignout(t *testing.T) {
	m := &MockAuth{}
	req := newRequest(http.MethodPost, "/api/auth/signout", "", "")
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookie, Value: "old"})
	rr := httptest.NewRecorder()
	newAuthHandler(m, nil).HandleSignout(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"old"}, m.SignedOut)
	assert.Equal(t, "Signed out successfully", decodeBody(t, rr)["message"])
	c := findCookie(rr, auth.RefreshCookie)
	require.NotNil(t, c)
	assert.Less(t, c.MaxAge, 0)
}

func TestAuthHandler_HandleResetPassword(t *testing.T) {
	m := &MockAuth{}
	rr := httptest.NewRecorder()
	newAuthHandler(m, nil).HandleResetPassword(rr,
		newRequest(http.MethodPost, "/api/auth/reset-password", `{"email":"ghost@example.com"}`, ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Password reset link has been sent to your email address", decodeBody(t, rr)["message"])
}

// ============================================================================
// Google
// ============================================================================

func googleCallback(query string, cookies map[string]string) *http.Request {
	req := newRequest(http.MethodGet, "/api/auth/google/callback?"+query, "", "")
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	return req
}

func redirectQuery(t *testing.T, rr *httptest.ResponseRecorder) (string, url.Values) {
	t.Helper()
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	return loc.Path, loc.Query()
}

func TestAuthHandler_HandleGoogleSignin(t *testing.T) {
	t.Run("redirects with state cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newAuthHandler(&MockAuth{}, &MockGoogle{}).HandleGoogleSignin(rr,
			newRequest(http.MethodGet, "/api/auth/google/signin?redirect_to=/dashboard", "", ""))

		assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
		state := findCookie(rr, auth.StateCookie)
		require.NotNil(t, state)
		assert.NotEmpty(t, state.Value)
		assert.True(t, strings.HasSuffix(rr.Header().Get("Location"), "state="+state.Value))

		redirect := findCookie(rr, auth.RedirectCookie)
		require.NotNil(t, redirect)
		assert.Equal(t, "/dashboard", redirect.Value)
	})

	t.Run("not configured", func(t *testing.T) {
		rr := httptest.NewRecorder()
		newAuthHandler(&MockAuth{}, nil).HandleGoogleSignin(rr,
			newRequest(http.MethodGet, "/api/auth/google/signin", "", ""))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestAuthHandler_HandleGoogleCallback(t *testing.T) {
	okCookies := map[string]string{auth.StateCookie: "st4te", auth.RedirectCookie: "/events"}

	tests := []struct {
		name      string
		query     string
		cookies   map[string]string
		auth      *MockAuth
		google    *MockGoogle
		wantPath  string
		wantError string
	}{
		{
			name:      "provider error",
			query:     "error=access_denied",
			wantPath:  "/auth/error",
			wantError: "access_denied",
		},
		{
			name:      "missing code",
			query:     "state=st4te",
			cookies:   okCookies,
			wantPath:  "/auth/error",
			wantError: "missing_code",
		},
		{
			name:      "state mismatch",
			query:     "code=abc&state=other",
			cookies:   okCookies,
			wantPath:  "/auth/error",
			wantError: "invalid_state",
		},
		{
			name:      "exchange failure",
			query:     "code=abc&state=st4te",
			cookies:   okCookies,
			google:    &MockGoogle{ReturnErr: errors.New("boom")},
			wantPath:  "/auth/error",
			wantError: "exchange_failed",
		},
		{
			name:      "provider conflict",
			query:     "code=abc&state=st4te",
			cookies:   okCookies,
			auth:      &MockAuth{ReturnErr: service.ErrProviderConflict},
			wantPath:  "/auth/error",
			wantError: "provider_conflict",
		},
		{
			name:     "success goes to redirect_to",
			query:    "code=abc&state=st4te",
			cookies:  okCookies,
			auth:     &MockAuth{ReturnResult: testSession()},
			wantPath: "/events",
		},
		{
			name:     "off-site redirect is dropped",
			query:    "code=abc&state=st4te",
			cookies:  map[string]string{auth.StateCookie: "st4te", auth.RedirectCookie: "//evil.example"},
			auth:     &MockAuth{ReturnResult: testSession()},
			wantPath: "/",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.auth
			if m == nil {
				m = &MockAuth{}
			}
			g := tt.google
			if g == nil {
				g = &MockGoogle{ReturnUser: &auth.GoogleUser{Email: "rider@example.com", Name: "Arun"}}
			}
			rr := httptest.NewRecorder()
			newAuthHandler(m, g).HandleGoogleCallback(rr, googleCallback(tt.query, tt.cookies))

			assert.Equal(t, http.StatusSeeOther, rr.Code)
			assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), siteURL+"/"))
			path, q := redirectQuery(t, rr)
			assert.Equal(t, tt.wantPath, path)
			assert.Equal(t, tt.wantError, q.Get("error"))

			if tt.wantError == "" {
				require.NotNil(t, findCookie(rr, auth.AccessCookie))
				assert.Equal(t, "rider@example.com", m.GoogleCalledFor.Email)
			}
			if tt.wantError == "provider_conflict" {
				assert.Equal(t, service.ErrProviderConflict.Message, q.Get("message"))
			}
		})
	}
}
