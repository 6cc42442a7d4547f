package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

// ProfileService reads and edits a rider's own profile.
type ProfileService struct {
	users  repository.UserRepository
	logger *slog.Logger
}

func NewProfileService(users repository.UserRepository, logger *slog.Logger) *ProfileService {
	return &ProfileService{users: users, logger: logger}
}

func (s *ProfileService) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/profile: fetching user %s: %w", userID, err)
	}
	return user, nil
}

// Update applies a partial edit. Only the keys of model.ProfileUpdate can
// change; everything else on the account is out of reach.
func (s *ProfileService) Update(ctx context.Context, userID string, upd model.ProfileUpdate) (*model.User, error) {
	if upd.Empty() {
		return nil, apperror.ValidationFailed("updates", "Profile updates are required")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/profile: fetching user %s: %w", userID, err)
	}

	upd.Apply(user)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("service/profile: updating user %s: %w", userID, err)
	}

	s.logger.Info("profile updated", slog.String("user_id", userID))
	return user, nil
}
