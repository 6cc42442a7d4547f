// Package model defines the data structures used throughout the application.
package model

import (
	"strings"
	"time"
)

// Auth providers a user account can be registered with.
const (
	ProviderEmail  = "email"
	ProviderGoogle = "google"
)

// User is a registered rider.
//
// ID is the internal primary key (xid). KRID is the public "Kerala Riders ID"
// shown to other riders and used in URLs such as /api/users/{krid}/events.
// Both are generated once at creation and never change.
//
// The Strava credentials live on the user row; they are opaque to everything
// except the strava service and are never serialized to clients.
type User struct {
	ID           string `json:"id"`
	KRID         string `json:"krid"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Provider     string `json:"provider"`

	Name           string `json:"name"`
	PhoneNumber    string `json:"phoneNumber"`
	Gender         string `json:"gender"`
	UAEEmirate     string `json:"uaeEmirate"`
	City           string `json:"city"`
	KeralaDistrict string `json:"keralaDistrict"`

	IsActive         bool       `json:"isActive"`
	IsDataConsent    bool       `json:"isDataConsent"`
	IsEmailVerified  bool       `json:"isEmailVerified"`
	IsMobileVerified bool       `json:"isMobileVerified"`
	EmailConfirmedAt *time.Time `json:"emailConfirmedAt"`

	Strava StravaCredentials `json:"-"`

	// PasswordChangedAt invalidates access tokens issued before it.
	PasswordChangedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StravaCredentials is the token pair issued by Strava for one athlete.
// ExpiresAt is nil when Strava never told us (treated as expired).
type StravaCredentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	AthleteID    int64
}

// Connected reports whether the user has both halves of a Strava token pair.
func (c StravaCredentials) Connected() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// UserSummary is the slice of a user embedded in event payloads.
type UserSummary struct {
	KRID  string `json:"krid"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{KRID: u.KRID, Name: u.Name, Email: u.Email}
}

// Metadata is the flat profile map returned to clients as "user_metadata".
type Metadata struct {
	FullName         string `json:"full_name"`
	KRID             string `json:"krid"`
	PhoneNumber      string `json:"phone_number"`
	Gender           string `json:"gender"`
	UAEEmirate       string `json:"uae_emirate"`
	City             string `json:"city"`
	KeralaDistrict   string `json:"kerala_district"`
	IsActive         bool   `json:"is_active"`
	IsDataConsent    bool   `json:"is_data_consent"`
	IsEmailVerified  bool   `json:"is_email_verified"`
	IsMobileVerified bool   `json:"is_mobile_verified"`
	StravaConnected  bool   `json:"strava_connected"`
	StravaAthleteID  int64  `json:"strava_athlete_id,omitempty"`
}

func (u *User) Metadata() Metadata {
	return Metadata{
		FullName:         u.Name,
		KRID:             u.KRID,
		PhoneNumber:      u.PhoneNumber,
		Gender:           u.Gender,
		UAEEmirate:       u.UAEEmirate,
		City:             u.City,
		KeralaDistrict:   u.KeralaDistrict,
		IsActive:         u.IsActive,
		IsDataConsent:    u.IsDataConsent,
		IsEmailVerified:  u.IsEmailVerified,
		IsMobileVerified: u.IsMobileVerified,
		StravaConnected:  u.Strava.Connected(),
		StravaAthleteID:  u.Strava.AthleteID,
	}
}

// AuthUser is the client-facing account shape: identity plus user_metadata.
type AuthUser struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Metadata         Metadata   `json:"user_metadata"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (u *User) AuthView() AuthUser {
	return AuthUser{
		ID:               u.ID,
		Email:            u.Email,
		Metadata:         u.Metadata(),
		EmailConfirmedAt: u.EmailConfirmedAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

// NormalizeEmail lower-cases and trims an address so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ProfileUpdate is a partial profile edit. Nil fields are left untouched.
type ProfileUpdate struct {
	FullName         *string `json:"full_name"`
	PhoneNumber      *string `json:"phone_number"`
	Gender           *string `json:"gender"`
	UAEEmirate       *string `json:"uae_emirate"`
	City             *string `json:"city"`
	KeralaDistrict   *string `json:"kerala_district"`
	IsDataConsent    *bool   `json:"is_data_consent"`
	IsMobileVerified *bool   `json:"is_mobile_verified"`
}

// Empty reports whether the update carries no fields at all.
func (p ProfileUpdate) Empty() bool {
	return p.FullName == nil && p.PhoneNumber == nil && p.Gender == nil &&
		p.UAEEmirate == nil && p.City == nil && p.KeralaDistrict == nil &&
		p.IsDataConsent == nil && p.IsMobileVerified == nil
}

// Apply copies the non-nil fields onto u.
func (p ProfileUpdate) Apply(u *User) {
	if p.FullName != nil {
		u.Name = strings.TrimSpace(*p.FullName)
	}
	if p.PhoneNumber != nil {
		u.PhoneNumber = strings.TrimSpace(*p.PhoneNumber)
	}
	if p.Gender != nil {
		u.Gender = strings.TrimSpace(*p.Gender)
	}
	if p.UAEEmirate != nil {
		u.UAEEmirate = strings.TrimSpace(*p.UAEEmirate)
	}
	if p.City != nil {
		u.City = strings.TrimSpace(*p.City)
	}
	if p.KeralaDistrict != nil {
		u.KeralaDistrict = strings.TrimSpace(*p.KeralaDistrict)
	}
	if p.IsDataConsent != nil {
		u.IsDataConsent = *p.IsDataConsent
	}
	if p.IsMobileVerified != nil {
		u.IsMobileVerified = *p.IsMobileVerified
	}
}
