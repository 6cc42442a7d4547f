package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
	"github.com/keralariders/server/internal/strava"
)

var (
	// ErrNoStravaCredentials means the user never connected Strava or has
	// since disconnected.
	ErrNoStravaCredentials = apperror.ValidationFailed("strava", "No Strava credentials found")

	// ErrCredentialsUpdate wraps a failure to persist a refreshed token pair.
	ErrCredentialsUpdate = errors.New("Failed to update credentials")
)

// ErrInvalidConnectState rejects a Strava callback whose state was not
// minted by ConnectURL for this browser.
var ErrInvalidConnectState = apperror.Forbidden("Invalid or expired Strava connect state")

const (
	connectStateAudience = "strava-connect"
	// ConnectStateTTL bounds how long a rider has to approve access on Strava.
	ConnectStateTTL = 10 * time.Minute
)

// StravaService manages a rider's Strava connection and keeps their token
// pair fresh.
type StravaService struct {
	users  repository.UserRepository
	api    StravaAPI
	states StateSigner
	logger *slog.Logger
	now    clock
}

func NewStravaService(users repository.UserRepository, api StravaAPI, states StateSigner, logger *slog.Logger) *StravaService {
	return &StravaService{users: users, api: api, states: states, logger: logger, now: systemClock}
}

// ConnectResult is a completed link: the updated user and the athlete
// Strava reported for the code.
type ConnectResult struct {
	User    *model.User
	Athlete strava.Athlete
}

// ConnectURL is where to send userID to grant access. The returned state is
// a signed token naming userID; the caller must keep it (in a cookie) and
// hand it back to VerifyConnectState on the callback.
func (s *StravaService) ConnectURL(userID string) (authURL, state string, err error) {
	state, err = s.states.SignState(userID, connectStateAudience, ConnectStateTTL)
	if err != nil {
		return "", "", fmt.Errorf("service/strava: signing state: %w", err)
	}
	return s.api.AuthorizeURL(state), state, nil
}

// VerifyConnectState returns the user a callback state was issued for.
func (s *StravaService) VerifyConnectState(state string) (string, error) {
	userID, err := s.states.VerifyState(state, connectStateAudience)
	if err != nil {
		s.logger.Warn("rejected strava connect state", slog.String("error", err.Error()))
		return "", ErrInvalidConnectState
	}
	return userID, nil
}

// Connect exchanges an authorization code and stores the resulting
// credentials on the user.
func (s *StravaService) Connect(ctx context.Context, userID, code string) (*ConnectResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/strava: loading user %s: %w", userID, err)
	}

	tok, err := s.api.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("service/strava: exchanging code: %w", err)
	}

	creds := model.StravaCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiryPtr(tok),
	}
	var athlete strava.Athlete
	if tok.Athlete != nil {
		athlete = *tok.Athlete
		creds.AthleteID = athlete.ID
	}
	if err := s.users.UpdateStrava(ctx, user.ID, creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialsUpdate, err)
	}
	user.Strava = creds

	s.logger.Info("strava connected",
		slog.String("user_id", user.ID), slog.Int64("athlete_id", creds.AthleteID))
	return &ConnectResult{User: user, Athlete: athlete}, nil
}

// ValidToken returns an access token that is good for at least
// strava.RefreshBuffer, refreshing and persisting a new pair when the cached
// one is about to expire. user.Strava is updated in place.
func (s *StravaService) ValidToken(ctx context.Context, user *model.User) (string, error) {
	if !user.Strava.Connected() {
		return "", ErrNoStravaCredentials
	}
	if !strava.IsTokenExpired(user.Strava.ExpiresAt, s.now()) {
		return user.Strava.AccessToken, nil
	}

	s.logger.Info("strava token expiring, refreshing", slog.String("user_id", user.ID))
	creds, err := s.refresh(ctx, user)
	if err != nil {
		return "", err
	}
	return creds.AccessToken, nil
}

// Refresh forces a token refresh regardless of expiry.
func (s *StravaService) Refresh(ctx context.Context, userID string) (*model.StravaCredentials, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/strava: loading user %s: %w", userID, err)
	}
	if user.Strava.RefreshToken == "" {
		return nil, apperror.ValidationFailed("strava", "No Strava refresh token found")
	}
	return s.refresh(ctx, user)
}

// Disconnect forgets the stored credentials. Strava-side access is left
// for the rider to revoke.
func (s *StravaService) Disconnect(ctx context.Context, userID string) error {
	if err := s.users.UpdateStrava(ctx, userID, model.StravaCredentials{}); err != nil {
		return fmt.Errorf("service/strava: disconnecting %s: %w", userID, err)
	}
	s.logger.Info("strava disconnected", slog.String("user_id", userID))
	return nil
}

// Stats returns the athlete's Strava totals.
func (s *StravaService) Stats(ctx context.Context, userID string) (*strava.AthleteStats, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/strava: loading user %s: %w", userID, err)
	}
	token, err := s.ValidToken(ctx, user)
	if err != nil {
		return nil, err
	}
	if user.Strava.AthleteID == 0 {
		return nil, apperror.ValidationFailed("strava", "Strava athlete unknown. Please reconnect Strava.")
	}
	stats, err := s.api.AthleteStats(ctx, token, user.Strava.AthleteID)
	if err != nil {
		return nil, fmt.Errorf("service/strava: fetching stats: %w", err)
	}
	return stats, nil
}

func (s *StravaService) refresh(ctx context.Context, user *model.User) (*model.StravaCredentials, error) {
	tok, err := s.api.Refresh(ctx, user.Strava.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("service/strava: refreshing token for %s: %w", user.ID, err)
	}

	creds := model.StravaCredentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiryPtr(tok),
		AthleteID:    user.Strava.AthleteID,
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = user.Strava.RefreshToken
	}
	if err := s.users.UpdateStrava(ctx, user.ID, creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentialsUpdate, err)
	}
	user.Strava = creds
	return &creds, nil
}

func expiryPtr(tok *strava.Token) *time.Time {
	if tok.ExpiresAt.IsZero() {
		return nil
	}
	t := tok.ExpiresAt.UTC()
	return &t
}
