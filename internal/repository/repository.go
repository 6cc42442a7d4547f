// Package repository declares the storage interfaces the services depend on.
// Implementations live in subpackages (repository/sqlite).
package repository

import (
	"context"
	"time"

	"github.com/keralariders/server/internal/model"
)

// UserRepository stores riders. Email lookups are case-insensitive.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByKRID(ctx context.Context, krid string) (*model.User, error)
	// Update writes the profile, flags and password hash. Strava
	// credentials are left alone; use UpdateStrava for those.
	Update(ctx context.Context, user *model.User) error
	UpdateStrava(ctx context.Context, userID string, creds model.StravaCredentials) error
	ListStravaConnected(ctx context.Context) ([]model.User, error)
}

// SessionRepository stores refresh sessions by token hash.
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	GetByHash(ctx context.Context, hash string) (*model.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string) error
}

// CodeRepository stores one-time email codes.
type CodeRepository interface {
	Create(ctx context.Context, code *model.EmailCode) error
	// Latest returns the newest unconsumed code for the user and purpose.
	Latest(ctx context.Context, userID, purpose string) (*model.EmailCode, error)
	IncrementAttempts(ctx context.Context, id string) error
	Consume(ctx context.Context, id string, at time.Time) error
}

// EventRepository stores events. Reads only ever return active events.
type EventRepository interface {
	Create(ctx context.Context, event *model.Event) error
	Get(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context, filters model.EventFilters) ([]model.Event, error)
	Update(ctx context.Context, event *model.Event) error
	// SoftDelete deactivates an active event owned by creatorID and
	// reports whether a row matched.
	SoftDelete(ctx context.Context, id, creatorID string) (bool, error)
	ListByCreator(ctx context.Context, userID string) ([]model.Event, error)
	ListJoined(ctx context.Context, userID string) ([]model.Event, error)
}

// ParticipantRepository stores event participation rows.
type ParticipantRepository interface {
	Get(ctx context.Context, eventID, userID string) (*model.EventParticipant, error)
	// Add returns apperror.ErrConflict when the user already has a row
	// for the event.
	Add(ctx context.Context, p *model.EventParticipant) error
	// Remove reports whether a row was deleted.
	Remove(ctx context.Context, eventID, userID string) (bool, error)
	CountRegistered(ctx context.Context, eventID string) (int, error)
	// FirstWaitlisted returns the earliest waitlisted row, or nil.
	FirstWaitlisted(ctx context.Context, eventID string) (*model.EventParticipant, error)
	UpdateStatus(ctx context.Context, id, status string) error
	// ListForEvents returns participants with their user summaries,
	// keyed by event id, in join order.
	ListForEvents(ctx context.Context, eventIDs []string) (map[string][]model.ParticipantDetails, error)
}

// ActivityRepository stores synced Strava activities.
type ActivityRepository interface {
	Exists(ctx context.Context, id int64) (bool, error)
	// Create returns apperror.ErrConflict for a duplicate id.
	Create(ctx context.Context, activity *model.Activity) error
	List(ctx context.Context, filter model.ActivityFilter) ([]model.Activity, error)
	Count(ctx context.Context, filter model.ActivityFilter) (int, error)
}
