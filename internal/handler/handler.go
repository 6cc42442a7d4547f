// Package handler contains the HTTP handlers of the API.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the request (path params, query, JSON body)
//  2. Call one service method
//  3. Write the JSON envelope or redirect
//
// Handlers depend on the small interfaces below rather than on the concrete
// services, so handler tests can swap in stubs. The *service types satisfy
// them; the compile-time checks in server.go keep that true.
package handler

import (
	"context"

	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/service"
	"github.com/keralariders/server/internal/strava"
)

// Auth is the account and session API.
type Auth interface {
	Signup(ctx context.Context, in service.SignupInput) (*model.User, error)
	Signin(ctx context.Context, email, password string) (*service.AuthResult, error)
	VerifyOTP(ctx context.Context, email, token string) (*service.AuthResult, error)
	ResendOTP(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, email, token, password string) error
	Refresh(ctx context.Context, refreshToken string) (*service.AuthResult, error)
	Signout(ctx context.Context, refreshToken string)
	LoginWithGoogle(ctx context.Context, gu *auth.GoogleUser) (*service.AuthResult, error)
}

// GoogleOAuth starts and completes the Google authorization code flow.
type GoogleOAuth interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GoogleUser, error)
}

// Profiles reads and edits the caller's own profile.
type Profiles interface {
	Get(ctx context.Context, userID string) (*model.User, error)
	Update(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.User, error)
}

// Events is the event and participation API.
type Events interface {
	Get(ctx context.Context, id, viewerID string) (*model.EventDetails, error)
	List(ctx context.Context, q service.EventQuery, viewerID string) ([]model.EventDetails, error)
	UserEvents(ctx context.Context, krid, viewerID string, includePrivate bool, eventType string, limit int) (*model.UserEvents, error)
	Create(ctx context.Context, creatorID string, in model.CreateEventInput) (*model.EventDetails, error)
	Update(ctx context.Context, id, callerID string, p model.EventPatch) (*model.EventDetails, error)
	Delete(ctx context.Context, id, callerID string) error
	Join(ctx context.Context, eventID, userID string) (*service.JoinResult, error)
	Leave(ctx context.Context, eventID, userID string) (*model.EventParticipant, error)
}

// StravaLink manages a rider's Strava connection.
type StravaLink interface {
	ConnectURL(userID string) (authURL, state string, err error)
	VerifyConnectState(state string) (string, error)
	Connect(ctx context.Context, userID, code string) (*service.ConnectResult, error)
	Refresh(ctx context.Context, userID string) (*model.StravaCredentials, error)
	Disconnect(ctx context.Context, userID string) error
	Stats(ctx context.Context, userID string) (*strava.AthleteStats, error)
}

// Activities records and lists stored activities.
type Activities interface {
	Add(ctx context.Context, userID string, in model.ActivityInput) (*model.Activity, error)
	List(ctx context.Context, q model.ActivityQuery) (*model.ActivityPage, error)
}

// Syncer pulls today's Strava activities for one rider.
type Syncer interface {
	SyncToday(ctx context.Context, userID string) (*service.SyncResult, error)
}
