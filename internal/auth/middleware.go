package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// contextKey is unexported so no other package can read or shadow the
// values this package stores in a request context.
type contextKey string

const userIDKey contextKey = "userID"

// Messages returned when a protected route is called without valid
// credentials.
const (
	msgMissingToken = "Authorization header with Bearer token required"
	msgInvalidToken = "Invalid or expired token"
)

var (
	errNoToken = errors.New("auth: no token")
	errRevoked = errors.New("auth: token issued before password change")
)

// Revocations reports the instant before which a user's access tokens are
// no longer honoured, or the zero time if there is none.
type Revocations interface {
	TokensRevokedBefore(ctx context.Context, userID string) (time.Time, error)
}

// RequireAuth rejects requests without a valid access token with 401 and
// stores the authenticated user ID in the context otherwise.
//
// The token is read from "Authorization: Bearer <jwt>" first, then from the
// sb-access-token cookie, so both API clients and the browser app work.
// With a non-nil revocations, tokens older than the user's last password
// change are refused too.
func RequireAuth(tokens *TokenService, revocations Revocations) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authenticate(r, tokens, revocations)
			if err != nil {
				msg := msgInvalidToken
				if errors.Is(err, errNoToken) {
					msg = msgMissingToken
				}
				writeUnauthorized(w, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuth attaches the user ID when a valid token is present and
// otherwise lets the request through anonymously. Used on public reads such
// as GET /api/events, where a logged-in viewer also sees their own
// participation.
func OptionalAuth(tokens *TokenService, revocations Revocations) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID, err := authenticate(r, tokens, revocations); err == nil {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID returns a copy of ctx carrying the authenticated user ID.
// Handler tests use it to skip the middleware.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns ("", false) for anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	return id, ok && id != ""
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func authenticate(r *http.Request, tokens *TokenService, revocations Revocations) (string, error) {
	raw := BearerToken(r)
	if raw == "" {
		if c, err := r.Cookie(AccessCookie); err == nil {
			raw = c.Value
		}
	}
	if raw == "" {
		return "", errNoToken
	}

	userID, issuedAt, err := tokens.validate(raw)
	if err != nil || revocations == nil {
		return userID, err
	}
	before, err := revocations.TokensRevokedBefore(r.Context(), userID)
	if err != nil {
		return "", err
	}
	// iat has second precision.
	if !before.IsZero() && issuedAt.Before(before.Truncate(time.Second)) {
		return "", errRevoked
	}
	return userID, nil
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   msg,
	})
}
