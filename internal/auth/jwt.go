// Package auth holds the identity primitives used by the auth service:
// signed access tokens, password hashing, one-time codes, cookies, the
// Google OAuth provider and the HTTP middleware that authenticates requests.
//
// ACCESS TOKENS:
// An access token is an HS256 JWT whose "sub" claim is the internal user ID.
// It is stateless: the middleware verifies it with the secret alone, no DB
// lookup. Long-lived login state is kept in refresh sessions instead (see
// service.AuthService), which can be revoked.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "kerala-riders"

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService that issues tokens valid for ttl.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		return nil, errors.New("auth: access token TTL must be positive")
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

type claims struct {
	jwt.RegisteredClaims
}

// TTL is the lifetime of tokens produced by Generate.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Generate creates and signs an access token for userID and returns it with
// its expiry.
func (s *TokenService) Generate(userID string) (string, time.Time, error) {
	return s.GenerateWithDuration(userID, s.ttl)
}

// GenerateWithDuration creates a token with a custom expiry duration.
// Tests use it to mint already-expired tokens.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(d)

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, expires, nil
}

// Validate parses and verifies a JWT string and returns the user ID in its
// "sub" claim. Only HS256 tokens from this issuer with an expiry are accepted.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	userID, _, err := s.validate(tokenStr)
	return userID, err
}

// validate is Validate that also reports when the token was issued.
func (s *TokenService) validate(tokenStr string) (string, time.Time, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", time.Time{}, fmt.Errorf("auth: token expired")
		}
		return "", time.Time{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", time.Time{}, fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", time.Time{}, fmt.Errorf("auth: token has no subject")
	}
	// State tokens carry an audience and must not pass as access tokens.
	if len(c.Audience) > 0 {
		return "", time.Time{}, fmt.Errorf("auth: not an access token")
	}

	var issuedAt time.Time
	if c.IssuedAt != nil {
		issuedAt = c.IssuedAt.Time
	}
	return c.Subject, issuedAt, nil
}

// SignState issues a short-lived token that binds an OAuth round trip to
// subject. audience names the flow so a state minted for one provider is
// rejected by another.
func (s *TokenService) SignState(subject, audience string, ttl time.Duration) (string, error) {
	if subject == "" || audience == "" {
		return "", errors.New("auth: state needs a subject and an audience")
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing state: %w", err)
	}
	return signed, nil
}

// VerifyState checks a token from SignState and returns its subject.
func (s *TokenService) VerifyState(state, audience string) (string, error) {
	token, err := jwt.ParseWithClaims(
		state,
		&claims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("auth: invalid state: %w", err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.Subject == "" {
		return "", fmt.Errorf("auth: invalid state claims")
	}
	return c.Subject, nil
}
