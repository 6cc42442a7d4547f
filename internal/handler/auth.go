package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/xid"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/service"
)

// AuthHandler serves the email/password, OTP and Google login flows.
//
//   - Signup / VerifyOTP / ResendOTP → email verification
//   - Signin / Refresh / Signout     → sessions (cookies + JSON session)
//   - ResetPassword / ConfirmReset   → password reset by emailed code
//   - GoogleSignin / GoogleCallback  → OAuth redirects
type AuthHandler struct {
	auth    Auth
	google  GoogleOAuth // nil when Google login is not configured
	cookies auth.Cookies
	siteURL string
	logger  *slog.Logger
}

func NewAuthHandler(svc Auth, google GoogleOAuth, cookies auth.Cookies, siteURL string, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:    svc,
		google:  google,
		cookies: cookies,
		siteURL: strings.TrimRight(siteURL, "/"),
		logger:  logger,
	}
}

type signupRequest struct {
	Email    string              `json:"email" validate:"required,email"`
	Password string              `json:"password" validate:"required"`
	UserData model.ProfileUpdate `json:"userData"`
}

type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type otpRequest struct {
	Email string `json:"email" validate:"required,email"`
	Token string `json:"token" validate:"required"`
}

type emailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type confirmResetRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// sessionResponse is the body of every endpoint that logs a user in.
type sessionResponse struct {
	Success bool           `json:"success"`
	User    model.AuthUser `json:"user"`
	Session model.Tokens   `json:"session"`
	Message string         `json:"message"`
}

// respondSession sets the session cookies and returns user plus session.
func (h *AuthHandler) respondSession(w http.ResponseWriter, res *service.AuthResult, message string) {
	h.cookies.SetSession(w, res.Tokens)
	writeJSON(w, http.StatusOK, sessionResponse{
		Success: true,
		User:    res.User.AuthView(),
		Session: res.Tokens,
		Message: message,
	})
}

// HandleSignup registers an email account.
//
// HTTP: POST /api/auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.auth.Signup(r.Context(), service.SignupInput{
		Email:    req.Email,
		Password: req.Password,
		UserData: req.UserData,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user": map[string]any{
			"id":                 user.ID,
			"email":              user.Email,
			"email_confirmed_at": user.EmailConfirmedAt,
		},
		"message":              "Please check your email to confirm your account",
		"requiresConfirmation": true,
	})
}

// HandleSignin logs in with email and password.
//
// HTTP: POST /api/auth/signin
func (h *AuthHandler) HandleSignin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.auth.Signin(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.respondSession(w, res, "Signed in successfully")
}

// HandleVerifyOTP redeems the signup code and logs the user in.
//
// HTTP: POST /api/auth/verify-otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.auth.VerifyOTP(r.Context(), req.Email, strings.TrimSpace(req.Token))
	if err != nil {
		writeError(w, err)
		return
	}
	h.respondSession(w, res, "Email verified successfully")
}

// HandleResendOTP mails a fresh signup code.
//
// HTTP: POST /api/auth/resend-otp
func (h *AuthHandler) HandleResendOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.ResendOTP(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil, "OTP has been sent to your email address")
}

// HandleResetPassword mails a reset link. The response is the same whether
// or not the address has an account.
//
// HTTP: POST /api/auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, nil, "Password reset link has been sent to your email address")
}

// HandleConfirmReset sets a new password using the emailed code.
//
// HTTP: POST /api/auth/reset-password/confirm
func (h *AuthHandler) HandleConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req confirmResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.auth.ConfirmPasswordReset(r.Context(), req.Email, strings.TrimSpace(req.Token), req.Password); err != nil {
		writeError(w, err)
		return
	}
	h.cookies.ClearSession(w)
	writeData(w, http.StatusOK, nil, "Password has been reset. Please sign in with your new password.")
}

// HandleRefresh rotates the refresh session. The token comes from the JSON
// body or, for the browser app, the refresh cookie.
//
// HTTP: POST /api/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	token := req.RefreshToken
	if token == "" {
		if c, err := r.Cookie(auth.RefreshCookie); err == nil {
			token = c.Value
		}
	}

	res, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		h.cookies.ClearSession(w)
		writeError(w, err)
		return
	}
	h.respondSession(w, res, "Session refreshed")
}

// HandleSignout ends the session and clears cookies. It always succeeds.
//
// HTTP: POST /api/auth/signout
func (h *AuthHandler) HandleSignout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(auth.RefreshCookie); err == nil && c.Value != "" {
		h.auth.Signout(r.Context(), c.Value)
	}
	h.cookies.ClearSession(w)
	writeData(w, http.StatusOK, nil, "Signed out successfully")
}

// ============================================================================
// Google
// ============================================================================

// HandleGoogleSignin redirects the browser to Google.
//
// HTTP: GET /api/auth/google/signin?redirect_to=/dashboard
//
// A random state goes into a short-lived cookie and is checked on the
// callback. redirect_to must be a same-site path.
func (h *AuthHandler) HandleGoogleSignin(w http.ResponseWriter, r *http.Request) {
	if h.google == nil {
		writeError(w, apperror.ValidationFailed("", "Google sign-in is not configured"))
		return
	}
	state := xid.New().String()
	h.cookies.SetOAuthState(w, state, safeRedirect(r.URL.Query().Get("redirect_to")))
	http.Redirect(w, r, h.google.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGoogleCallback completes the Google flow.
//
// HTTP: GET /api/auth/google/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Google reported an error → /auth/error
//  2. Validate the state cookie (CSRF)
//  3. Exchange the code for the Google profile
//  4. Sign in or register the user
//  5. Set session cookies and redirect to redirect_to
func (h *AuthHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if h.google == nil {
		h.authError(w, r, "google_not_configured", "")
		return
	}
	if e := q.Get("error"); e != "" {
		h.logger.Info("google callback: authorization denied", slog.String("error", e))
		h.authError(w, r, e, "")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.authError(w, r, "missing_code", "")
		return
	}

	stateCookie, err := r.Cookie(auth.StateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != q.Get("state") {
		h.logger.Warn("google callback: state mismatch")
		h.authError(w, r, "invalid_state", "")
		return
	}
	redirectTo := "/"
	if c, err := r.Cookie(auth.RedirectCookie); err == nil {
		redirectTo = safeRedirect(c.Value)
	}
	h.cookies.ClearOAuthState(w)

	gu, err := h.google.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("google callback: exchange failed", slog.String("error", err.Error()))
		h.authError(w, r, "exchange_failed", "")
		return
	}

	res, err := h.auth.LoginWithGoogle(r.Context(), gu)
	if err != nil {
		var appErr *apperror.AppError
		switch {
		case errors.Is(err, apperror.ErrConflict):
			h.authError(w, r, "provider_conflict", service.ErrProviderConflict.Message)
		case errors.As(err, &appErr) && statusOf(err) != http.StatusInternalServerError:
			h.authError(w, r, "login_failed", appErr.Message)
		default:
			h.logger.Error("google callback: login failed", slog.String("error", err.Error()))
			h.authError(w, r, "login_failed", "")
		}
		return
	}

	h.cookies.SetSession(w, res.Tokens)
	h.logger.Info("user authenticated via Google", slog.String("user_id", res.User.ID))
	http.Redirect(w, r, h.siteURL+redirectTo, http.StatusSeeOther)
}

func (h *AuthHandler) authError(w http.ResponseWriter, r *http.Request, code, message string) {
	q := url.Values{"error": {code}}
	if message != "" {
		q.Set("message", message)
	}
	http.Redirect(w, r, h.siteURL+"/auth/error?"+q.Encode(), http.StatusSeeOther)
}

// safeRedirect keeps only local absolute paths ("/x"), rejecting
// scheme-relative ("//host") and absolute URLs.
func safeRedirect(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	return p
}
