package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Participation statuses.
const (
	StatusRegistered = "registered"
	StatusWaitlist   = "waitlist"
)

// Event is a ride or run organised by one rider.
// A nil MaxParticipants means unlimited capacity.
type Event struct {
	ID                   string     `json:"id"`
	Title                string     `json:"title"`
	Description          *string    `json:"description"`
	Date                 time.Time  `json:"date"`
	Location             string     `json:"location"`
	MaxParticipants      *int       `json:"maxParticipants"`
	Category             string     `json:"category"`
	Difficulty           *string    `json:"difficulty"`
	Distance             *float64   `json:"distance"`
	RegistrationDeadline *time.Time `json:"registrationDeadline"`
	CreatedBy            string     `json:"createdBy"`
	IsActive             bool       `json:"isActive"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

// EventParticipant is one user's place (or queue slot) in an event.
type EventParticipant struct {
	ID           string    `json:"id"`
	EventID      string    `json:"eventId"`
	UserID       string    `json:"userId"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// ParticipantDetails is a participant row together with its user.
type ParticipantDetails struct {
	EventParticipant
	User UserSummary `json:"user"`
}

// EventDetails is the shape returned by every event read endpoint.
// ParticipantCount counts registered participants only.
type EventDetails struct {
	Event
	Creator           UserSummary          `json:"creator"`
	Participants      []ParticipantDetails `json:"participants"`
	ParticipantCount  int                  `json:"participantCount"`
	UserParticipation *EventParticipant    `json:"userParticipation"`
}

// EventFilters narrows an event listing. Zero values mean "no filter".
type EventFilters struct {
	Category   string
	Difficulty string
	DateFrom   *time.Time
	DateTo     *time.Time
	Location   string
}

// CreateEventInput is the body of POST /api/events.
// Strings are validated and trimmed by the events service.
type CreateEventInput struct {
	Title                string   `json:"title"`
	Description          *string  `json:"description"`
	Date                 string   `json:"date"`
	Location             string   `json:"location"`
	MaxParticipants      *int     `json:"maxParticipants"`
	Category             string   `json:"category"`
	Difficulty           *string  `json:"difficulty"`
	Distance             *float64 `json:"distance"`
	RegistrationDeadline *string  `json:"registrationDeadline"`
}

// EventPatch is the body of PUT /api/events/{id}.
// Each field distinguishes "absent" from an explicit null.
type EventPatch struct {
	Title                Optional[string]  `json:"title"`
	Description          Optional[string]  `json:"description"`
	Date                 Optional[string]  `json:"date"`
	Location             Optional[string]  `json:"location"`
	MaxParticipants      Optional[int]     `json:"maxParticipants"`
	Category             Optional[string]  `json:"category"`
	Difficulty           Optional[string]  `json:"difficulty"`
	Distance             Optional[float64] `json:"distance"`
	RegistrationDeadline Optional[string]  `json:"registrationDeadline"`
}

// Optional is a JSON field that records whether it was present at all.
// Set is true when the key appeared; Value is nil when it was null.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns a present, non-null Optional. Mostly useful in tests.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns a present Optional holding JSON null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// UserEvents is the response of GET /api/users/{krid}/events.
type UserEvents struct {
	CreatedEvents []EventDetails `json:"createdEvents"`
	JoinedEvents  []EventDetails `json:"joinedEvents"`
	TotalCreated  int            `json:"totalCreated"`
	TotalJoined   int            `json:"totalJoined"`
	TotalAll      int            `json:"totalAll"`
}
