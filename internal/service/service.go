// Package service holds the business rules. Handlers call services;
// services call repositories and outbound clients through the small
// interfaces below, so every rule can be tested with in-memory fakes.
package service

import (
	"context"
	"time"

	"github.com/keralariders/server/internal/strava"
)

// Mailer delivers the auth emails. *mailer.Service implements it.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, code string) error
	SendPasswordReset(ctx context.Context, to, link string) error
}

// StravaAPI is the part of *strava.Client the services use.
type StravaAPI interface {
	AuthorizeURL(state string) string
	Exchange(ctx context.Context, code string) (*strava.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*strava.Token, error)
	ActivitiesBetween(ctx context.Context, accessToken string, after, before time.Time) ([]strava.Activity, error)
	AthleteStats(ctx context.Context, accessToken string, athleteID int64) (*strava.AthleteStats, error)
}

// StateSigner mints and checks the signed OAuth state. *auth.TokenService
// implements it.
type StateSigner interface {
	SignState(subject, audience string, ttl time.Duration) (string, error)
	VerifyState(state, audience string) (string, error)
}

// clock is swapped in tests.
type clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
