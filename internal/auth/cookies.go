package auth

import (
	"net/http"
	"time"

	"github.com/keralariders/server/internal/model"
)

// Cookie names. The "sb-" prefix is kept so existing browser sessions and
// the web client's cookie handling keep working.
const (
	AccessCookie   = "sb-access-token"
	RefreshCookie  = "sb-refresh-token"
	StateCookie    = "oauth_state"
	RedirectCookie = "oauth_redirect"

	StravaStateCookie = "strava_oauth_state"
)

const (
	accessCookieMaxAge  = 7 * 24 * time.Hour
	refreshCookieMaxAge = 30 * 24 * time.Hour
	stateCookieMaxAge   = 10 * time.Minute
)

// Cookies writes and clears the session cookies. Secure should be true
// whenever the site is served over HTTPS.
type Cookies struct {
	Secure bool
}

// SetSession stores both halves of a login in HttpOnly cookies.
func (c Cookies) SetSession(w http.ResponseWriter, tokens model.Tokens) {
	http.SetCookie(w, c.cookie(AccessCookie, tokens.AccessToken, accessCookieMaxAge))
	http.SetCookie(w, c.cookie(RefreshCookie, tokens.RefreshToken, refreshCookieMaxAge))
}

// ClearSession expires both session cookies.
func (c Cookies) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(AccessCookie, "", -1))
	http.SetCookie(w, c.cookie(RefreshCookie, "", -1))
}

// SetOAuthState stores the CSRF state (and the post-login redirect) for
// the duration of an OAuth round trip.
func (c Cookies) SetOAuthState(w http.ResponseWriter, state, redirectTo string) {
	http.SetCookie(w, c.cookie(StateCookie, state, stateCookieMaxAge))
	http.SetCookie(w, c.cookie(RedirectCookie, redirectTo, stateCookieMaxAge))
}

// ClearOAuthState makes the state single-use.
func (c Cookies) ClearOAuthState(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(StateCookie, "", -1))
	http.SetCookie(w, c.cookie(RedirectCookie, "", -1))
}

// SetStravaState pins a Strava connect state to this browser. It is kept
// apart from StateCookie so a Google login in another tab does not clobber it.
func (c Cookies) SetStravaState(w http.ResponseWriter, state string) {
	http.SetCookie(w, c.cookie(StravaStateCookie, state, stateCookieMaxAge))
}

// ClearStravaState makes the Strava state single-use.
func (c Cookies) ClearStravaState(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(StravaStateCookie, "", -1))
}

func (c Cookies) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge < 0 {
		ck.MaxAge = -1
	} else {
		ck.MaxAge = int(maxAge.Seconds())
	}
	return ck
}
