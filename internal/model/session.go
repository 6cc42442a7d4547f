package model

import "time"

// Email code purposes.
const (
	PurposeSignup = "signup"
	PurposeReset  = "reset"
)

// Session is a server-side refresh session. Only the SHA-256 of the refresh
// token is stored; the raw value exists only in the client's cookie.
type Session struct {
	ID          string
	UserID      string
	RefreshHash string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// EmailCode is a one-time code mailed to a user, for signup verification
// or password reset. Only its hash is stored.
type EmailCode struct {
	ID         string
	UserID     string
	Purpose    string
	CodeHash   string
	ExpiresAt  time.Time
	Attempts   int
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Tokens is the session payload returned to clients after a login.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}
