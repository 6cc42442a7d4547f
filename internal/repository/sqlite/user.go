package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table.
type UserDB struct {
	conn *sql.DB
}

// userColumns must match the Scan order in scanUser.
const userColumns = `id, krid, email, password_hash, provider, name, phone_number, gender,
	uae_emirate, city, kerala_district, is_active, is_data_consent, is_email_verified,
	is_mobile_verified, email_confirmed_at, strava_access_token, strava_refresh_token,
	strava_expires_at, strava_athlete_id, password_changed_at, created_at, updated_at`

func scanUser(s rowScanner) (*model.User, error) {
	var (
		u                                 model.User
		confirmedAt, expiresAt, changedAt sql.NullInt64
		createdAt, updatedAt              int64
	)
	err := s.Scan(
		&u.ID, &u.KRID, &u.Email, &u.PasswordHash, &u.Provider, &u.Name, &u.PhoneNumber, &u.Gender,
		&u.UAEEmirate, &u.City, &u.KeralaDistrict, &u.IsActive, &u.IsDataConsent, &u.IsEmailVerified,
		&u.IsMobileVerified, &confirmedAt, &u.Strava.AccessToken, &u.Strava.RefreshToken,
		&expiresAt, &u.Strava.AthleteID, &changedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.EmailConfirmedAt = nullToTimePtr(confirmedAt)
	u.Strava.ExpiresAt = nullToTimePtr(expiresAt)
	u.PasswordChangedAt = nullToTimePtr(changedAt)
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// newKRID derives the public rider id from an xid.
func newKRID(id xid.ID) string {
	return "KR" + strings.ToUpper(id.String())
}

// Create inserts a new user, assigning ID, KRID and timestamps.
// A taken email returns apperror.ErrConflict.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	id := xid.New()
	user.ID = id.String()
	user.KRID = newKRID(id)
	user.Email = model.NormalizeEmail(user.Email)
	if user.Provider == "" {
		user.Provider = model.ProviderEmail
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := u.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (`+placeholders(23)+`)`,
		user.ID, user.KRID, user.Email, user.PasswordHash, user.Provider, user.Name,
		user.PhoneNumber, user.Gender, user.UAEEmirate, user.City, user.KeralaDistrict,
		boolToInt(user.IsActive), boolToInt(user.IsDataConsent), boolToInt(user.IsEmailVerified),
		boolToInt(user.IsMobileVerified), timePtrToNull(user.EmailConfirmedAt),
		user.Strava.AccessToken, user.Strava.RefreshToken, timePtrToNull(user.Strava.ExpiresAt),
		user.Strava.AthleteID, timePtrToNull(user.PasswordChangedAt), toMillis(now), toMillis(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user", user.Email)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

func (u *UserDB) getBy(ctx context.Context, column, value string) (*model.User, error) {
	user, err := scanUser(u.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+column+` = ?`, value,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s %s: %w", column, value, err)
	}
	return user, nil
}

// GetByID returns apperror.ErrNotFound if no user has that id.
func (u *UserDB) GetByID(ctx context.Context, id string) (*model.User, error) {
	return u.getBy(ctx, "id", id)
}

// GetByEmail matches case-insensitively.
func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getBy(ctx, "email", model.NormalizeEmail(email))
}

func (u *UserDB) GetByKRID(ctx context.Context, krid string) (*model.User, error) {
	return u.getBy(ctx, "krid", strings.TrimSpace(krid))
}

// Update writes every mutable non-Strava column.
func (u *UserDB) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	res, err := u.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, provider = ?, name = ?, phone_number = ?, gender = ?,
			uae_emirate = ?, city = ?, kerala_district = ?, is_active = ?, is_data_consent = ?,
			is_email_verified = ?, is_mobile_verified = ?, email_confirmed_at = ?,
			password_changed_at = ?, updated_at = ?
		 WHERE id = ?`,
		user.PasswordHash, user.Provider, user.Name, user.PhoneNumber, user.Gender,
		user.UAEEmirate, user.City, user.KeralaDistrict, boolToInt(user.IsActive),
		boolToInt(user.IsDataConsent), boolToInt(user.IsEmailVerified),
		boolToInt(user.IsMobileVerified), timePtrToNull(user.EmailConfirmedAt),
		timePtrToNull(user.PasswordChangedAt), toMillis(user.UpdatedAt), user.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
	}
	return requireRow(res, "user", user.ID)
}

// UpdateStrava replaces the stored Strava credentials. Passing the zero
// value disconnects the account.
func (u *UserDB) UpdateStrava(ctx context.Context, userID string, creds model.StravaCredentials) error {
	res, err := u.conn.ExecContext(ctx,
		`UPDATE users SET strava_access_token = ?, strava_refresh_token = ?, strava_expires_at = ?,
			strava_athlete_id = ?, updated_at = ?
		 WHERE id = ?`,
		creds.AccessToken, creds.RefreshToken, timePtrToNull(creds.ExpiresAt), creds.AthleteID,
		toMillis(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating strava credentials for %s: %w", userID, err)
	}
	return requireRow(res, "user", userID)
}

// ListStravaConnected returns active users holding a Strava token pair,
// oldest account first.
func (u *UserDB) ListStravaConnected(ctx context.Context) ([]model.User, error) {
	rows, err := u.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE is_active = 1 AND strava_access_token != '' AND strava_refresh_token != ''
		 ORDER BY created_at, rowid`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing strava users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning user: %w", err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating users: %w", err)
	}
	return users, nil
}

// requireRow turns "0 rows affected" into apperror.ErrNotFound.
func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
