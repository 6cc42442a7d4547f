package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/auth"
	"github.com/keralariders/server/internal/logging"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

// One-time code policy.
const (
	OTPTTL         = 10 * time.Minute
	MaxOTPAttempts = 5
	ResendCooldown = 60 * time.Second
)

// User-facing auth messages.
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgEmailNotConfirmed  = "Please confirm your email address before signing in"
	MsgAlreadyRegistered  = "User already registered"
	MsgOTPExpired         = "OTP token has expired. Please request a new one."
	MsgOTPInvalid         = "Invalid OTP token. Please check and try again."
	MsgNoAccount          = "No account found with this email address"
	MsgResendTooSoon      = "Please wait before requesting another OTP"
	MsgInvalidSession     = "Invalid or expired session"
)

// ErrProviderConflict is returned by LoginWithGoogle when the email belongs
// to a password account.
var ErrProviderConflict = apperror.New(apperror.ErrConflict,
	"This email is already registered with a different login method. Please use your password to sign in.")

// AuthOptions are the deployment settings the auth flows need.
type AuthOptions struct {
	RefreshTTL time.Duration
	SiteURL    string
}

// AuthService owns identity: accounts, email codes and sessions.
//
//	AuthHandler (HTTP) → AuthService → UserRepository, SessionRepository, CodeRepository
//	                                 ↘ TokenService (JWT), PasswordService (bcrypt), Mailer
//
// It never touches HTTP; the handler turns an AuthResult into cookies.
type AuthService struct {
	users     repository.UserRepository
	sessions  repository.SessionRepository
	codes     repository.CodeRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	mailer    Mailer
	opts      AuthOptions
	logger    *slog.Logger
	now       clock
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	codes repository.CodeRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	mailer Mailer,
	opts AuthOptions,
	logger *slog.Logger,
) *AuthService {
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	return &AuthService{
		users:     users,
		sessions:  sessions,
		codes:     codes,
		tokens:    tokens,
		passwords: passwords,
		mailer:    mailer,
		opts:      opts,
		logger:    logger,
		now:       systemClock,
	}
}

// AuthResult is a signed-in user plus the session issued to them.
type AuthResult struct {
	User   *model.User
	Tokens model.Tokens
}

// SignupInput is the body of POST /api/auth/signup.
type SignupInput struct {
	Email    string
	Password string
	UserData model.ProfileUpdate
}

// Signup registers an email account and mails a verification code. An
// unverified account with the same email is refreshed instead of rejected,
// so a rider who lost the first code can sign up again.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	email := model.NormalizeEmail(in.Email)
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if user.IsEmailVerified {
			return nil, apperror.New(apperror.ErrConflict, MsgAlreadyRegistered)
		}
		user.PasswordHash = hash
		user.Provider = model.ProviderEmail
		in.UserData.Apply(user)
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: updating unverified user %s: %w", user.ID, err)
		}
	case errors.Is(err, apperror.ErrNotFound):
		user = &model.User{
			Email:        email,
			PasswordHash: hash,
			Provider:     model.ProviderEmail,
			IsActive:     true,
		}
		in.UserData.Apply(user)
		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				return nil, apperror.New(apperror.ErrConflict, MsgAlreadyRegistered)
			}
			return nil, fmt.Errorf("service/auth: creating user: %w", err)
		}
	default:
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	code, err := s.issueCode(ctx, user.ID, model.PurposeSignup)
	if err != nil {
		return nil, err
	}
	if err := s.mailer.SendVerificationCode(ctx, user.Email, code); err != nil {
		return nil, fmt.Errorf("service/auth: sending verification code: %w", err)
	}

	s.logger.Info("user signed up", slog.String("user_id", user.ID), slog.String("krid", user.KRID))
	return user, nil
}

// Signin checks a password and opens a session.
func (s *AuthService) Signin(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(MsgInvalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		return nil, apperror.Unauthorized(MsgInvalidCredentials)
	}
	if !user.IsEmailVerified {
		return nil, apperror.Unauthorized(MsgEmailNotConfirmed)
	}

	return s.startSession(ctx, user)
}

// VerifyOTP redeems a signup code, marks the email verified and signs the
// user in.
func (s *AuthService) VerifyOTP(ctx context.Context, email, token string) (*AuthResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.ValidationFailed("token", MsgOTPInvalid)
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.redeemCode(ctx, user.ID, model.PurposeSignup, token); err != nil {
		return nil, err
	}

	now := s.now()
	user.IsEmailVerified = true
	user.EmailConfirmedAt = &now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.Error("failed to mark email verified",
			slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}

	s.logger.Info("email verified", slog.String("user_id", user.ID))
	return s.startSession(ctx, user)
}

// ResendOTP mails a fresh signup code, at most once per ResendCooldown.
func (s *AuthService) ResendOTP(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.New(apperror.ErrNotFound, MsgNoAccount)
		}
		return fmt.Errorf("service/auth: looking up user: %w", err)
	}

	last, err := s.codes.Latest(ctx, user.ID, model.PurposeSignup)
	switch {
	case err == nil:
		if s.now().Sub(last.CreatedAt) < ResendCooldown {
			return apperror.RateLimited(MsgResendTooSoon)
		}
	case !errors.Is(err, apperror.ErrNotFound):
		return fmt.Errorf("service/auth: loading last code: %w", err)
	}

	code, err := s.issueCode(ctx, user.ID, model.PurposeSignup)
	if err != nil {
		return err
	}
	if err := s.mailer.SendVerificationCode(ctx, user.Email, code); err != nil {
		return fmt.Errorf("service/auth: sending verification code: %w", err)
	}
	return nil
}

// RequestPasswordReset mails a reset link. It reports success for unknown
// addresses too so the endpoint can't be used to discover accounts.
// Within ResendCooldown of the last link nothing new is issued, so the
// outstanding link keeps its attempt count.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Error("password reset lookup failed", slog.String("error", err.Error()))
		}
		return nil
	}

	last, err := s.codes.Latest(ctx, user.ID, model.PurposeReset)
	switch {
	case err == nil:
		if s.now().Sub(last.CreatedAt) < ResendCooldown {
			s.logger.Info("password reset requested again too soon", slog.String("user_id", user.ID))
			return nil
		}
	case !errors.Is(err, apperror.ErrNotFound):
		s.logger.Error("loading last reset code failed",
			slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return nil
	}

	code, err := s.issueCode(ctx, user.ID, model.PurposeReset)
	if err != nil {
		s.logger.Error("issuing reset code failed",
			slog.String("user_id", user.ID), slog.String("error", err.Error()))
		return nil
	}

	link := s.opts.SiteURL + "/auth/reset-password-confirm?" + url.Values{
		"email": {user.Email},
		"token": {code},
	}.Encode()
	if err := s.mailer.SendPasswordReset(ctx, user.Email, link); err != nil {
		s.logger.Error("sending reset email failed",
			slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}
	return nil
}

// ConfirmPasswordReset redeems a reset code, sets the new password and
// signs the user out everywhere.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, email, token, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("token", MsgOTPInvalid)
		}
		return fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.redeemCode(ctx, user.ID, model.PurposeReset, token); err != nil {
		return err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}
	now := s.now()
	user.PasswordHash = hash
	user.PasswordChangedAt = &now
	if !user.IsEmailVerified {
		user.IsEmailVerified = true
		user.EmailConfirmedAt = &now
	}
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("service/auth: saving new password: %w", err)
	}

	if err := s.sessions.DeleteForUser(ctx, user.ID); err != nil {
		s.logger.Warn("revoking sessions after reset failed",
			slog.String("user_id", user.ID), slog.String("error", err.Error()))
	}

	s.logger.Info("password reset", slog.String("user_id", user.ID))
	return nil
}

// Refresh rotates a refresh session: the old token stops working and a new
// pair is issued.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	if refreshToken == "" {
		return nil, apperror.Unauthorized(MsgInvalidSession)
	}

	sess, err := s.sessions.GetByHash(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(MsgInvalidSession)
		}
		return nil, fmt.Errorf("service/auth: loading session: %w", err)
	}

	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("service/auth: deleting old session: %w", err)
	}
	if !s.now().Before(sess.ExpiresAt) {
		return nil, apperror.Unauthorized(MsgInvalidSession)
	}

	user, err := s.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(MsgInvalidSession)
		}
		return nil, fmt.Errorf("service/auth: loading session user: %w", err)
	}

	return s.startSession(ctx, user)
}

// Signout deletes the session behind refreshToken if there is one. It
// never fails; the caller clears cookies regardless.
func (s *AuthService) Signout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}
	sess, err := s.sessions.GetByHash(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			s.logger.Warn("signout: loading session failed", slog.String("error", err.Error()))
		}
		return
	}
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		s.logger.Warn("signout: deleting session failed",
			slog.String("session_id", sess.ID), slog.String("error", err.Error()))
		return
	}
	s.logger.Info("user signed out", slog.String("user_id", sess.UserID))
}

// LoginWithGoogle signs in (or registers) the owner of a Google account.
func (s *AuthService) LoginWithGoogle(ctx context.Context, gu *auth.GoogleUser) (*AuthResult, error) {
	if gu == nil || gu.Email == "" {
		return nil, apperror.ValidationFailed("email", "Google account has no email address")
	}
	email := model.NormalizeEmail(gu.Email)

	user, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if user.Provider == model.ProviderEmail && user.PasswordHash != "" {
			return nil, ErrProviderConflict
		}
		if s.backfillFromGoogle(user, gu) {
			if err := s.users.Update(ctx, user); err != nil {
				return nil, fmt.Errorf("service/auth: updating google user %s: %w", user.ID, err)
			}
		}
	case errors.Is(err, apperror.ErrNotFound):
		now := s.now()
		user = &model.User{
			Email:            email,
			Provider:         model.ProviderGoogle,
			Name:             gu.Name,
			IsActive:         true,
			IsEmailVerified:  true,
			EmailConfirmedAt: &now,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("service/auth: creating google user: %w", err)
		}
		s.logger.Info("user registered via Google",
			slog.String("user_id", user.ID), slog.String("krid", user.KRID))
	default:
		return nil, fmt.Errorf("service/auth: looking up %s: %w", email, err)
	}

	return s.startSession(ctx, user)
}

// backfillFromGoogle fills fields an older Google account is missing and
// reports whether anything changed. Existing values are never overwritten.
func (s *AuthService) backfillFromGoogle(user *model.User, gu *auth.GoogleUser) bool {
	changed := false
	if user.Name == "" && gu.Name != "" {
		user.Name = gu.Name
		changed = true
	}
	if user.Provider == "" {
		user.Provider = model.ProviderGoogle
		changed = true
	}
	if !user.IsEmailVerified {
		now := s.now()
		user.IsEmailVerified = true
		user.EmailConfirmedAt = &now
		changed = true
	}
	return changed
}

// CurrentUser returns the signed-in user.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, apperror.Unauthorized("Invalid or expired token")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	return user, nil
}

// TokensRevokedBefore returns when the user last changed their password.
// Access tokens issued earlier are no longer accepted. A user that no longer
// exists revokes everything.
func (s *AuthService) TokensRevokedBefore(ctx context.Context, userID string) (time.Time, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	if user.PasswordChangedAt == nil {
		return time.Time{}, nil
	}
	return *user.PasswordChangedAt, nil
}

func (s *AuthService) startSession(ctx context.Context, user *model.User) (*AuthResult, error) {
	access, expiresAt, err := s.tokens.Generate(user.ID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating access token: %w", err)
	}
	refresh, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating refresh token: %w", err)
	}

	sess := &model.Session{
		UserID:      user.ID,
		RefreshHash: auth.HashToken(refresh),
		ExpiresAt:   s.now().Add(s.opts.RefreshTTL),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("service/auth: storing session: %w", err)
	}

	return &AuthResult{
		User: user,
		Tokens: model.Tokens{
			AccessToken:  access,
			RefreshToken: refresh,
			ExpiresAt:    expiresAt.Unix(),
		},
	}, nil
}

// issueCode stores a new code for purpose. Signup codes are typed in, so
// they are OTPs; reset codes only travel inside a link.
func (s *AuthService) issueCode(ctx context.Context, userID, purpose string) (string, error) {
	generate := auth.GenerateOTP
	if purpose == model.PurposeReset {
		generate = auth.GenerateResetToken
	}
	code, err := generate()
	if err != nil {
		return "", fmt.Errorf("service/auth: generating code: %w", err)
	}
	now := s.now()
	rec := &model.EmailCode{
		UserID:    userID,
		Purpose:   purpose,
		CodeHash:  auth.HashToken(code),
		ExpiresAt: now.Add(OTPTTL),
		CreatedAt: now,
	}
	if err := s.codes.Create(ctx, rec); err != nil {
		return "", fmt.Errorf("service/auth: storing %s code: %w", purpose, err)
	}
	s.logger.Debug("code issued",
		slog.String("user_id", userID), slog.String("purpose", purpose),
		slog.String("code", logging.MaskToken(code)))
	return code, nil
}

// redeemCode checks token against the newest live code and consumes it.
// Exhausted attempts count as expired.
func (s *AuthService) redeemCode(ctx context.Context, userID, purpose, token string) error {
	code, err := s.codes.Latest(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("token", MsgOTPExpired)
		}
		return fmt.Errorf("service/auth: loading %s code: %w", purpose, err)
	}

	if code.Attempts >= MaxOTPAttempts || !s.now().Before(code.ExpiresAt) {
		return apperror.ValidationFailed("token", MsgOTPExpired)
	}

	if !auth.TokenMatches(token, code.CodeHash) {
		if err := s.codes.IncrementAttempts(ctx, code.ID); err != nil {
			s.logger.Warn("recording failed code attempt",
				slog.String("code_id", code.ID), slog.String("error", err.Error()))
		}
		return apperror.ValidationFailed("token", MsgOTPInvalid)
	}

	if err := s.codes.Consume(ctx, code.ID, s.now()); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return apperror.ValidationFailed("token", MsgOTPExpired)
		}
		return fmt.Errorf("service/auth: consuming code: %w", err)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < auth.MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at least %d characters", auth.MinPasswordLength))
	}
	if len(password) > auth.MaxPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("Password must be at most %d characters", auth.MaxPasswordLength))
	}
	return nil
}
