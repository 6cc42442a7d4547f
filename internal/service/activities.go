package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

// Activity listing page sizes.
const (
	DefaultActivityLimit = 50
	MaxActivityLimit     = 100
)

const MsgActivityExists = "Activity with this ID already exists"

// ActivityService records and lists riders' activities.
type ActivityService struct {
	users      repository.UserRepository
	activities repository.ActivityRepository
	logger     *slog.Logger
}

func NewActivityService(users repository.UserRepository, activities repository.ActivityRepository, logger *slog.Logger) *ActivityService {
	return &ActivityService{users: users, activities: activities, logger: logger}
}

// Add stores one activity for userID.
func (s *ActivityService) Add(ctx context.Context, userID string, in model.ActivityInput) (*model.Activity, error) {
	for _, f := range []struct{ name, value string }{
		{"id", string(in.ID)},
		{"name", strings.TrimSpace(in.Name)},
		{"type", strings.TrimSpace(in.Type)},
	} {
		if f.value == "" {
			return nil, apperror.ValidationFailed(f.name, "Missing required field: "+f.name)
		}
	}

	id, err := parseActivityID(string(in.ID))
	if err != nil {
		return nil, apperror.ValidationFailed("id", "Invalid activity ID format")
	}

	exists, err := s.activities.Exists(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/activities: checking %d: %w", id, err)
	}
	if exists {
		return nil, apperror.New(apperror.ErrConflict, MsgActivityExists)
	}

	if in.Distance == nil || *in.Distance < 0 {
		return nil, apperror.ValidationFailed("distance", "Invalid distance value")
	}
	if in.MovingTime == nil || *in.MovingTime <= 0 {
		return nil, apperror.ValidationFailed("movingTime", "Invalid duration value")
	}

	start, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(in.StartDate))
	if err != nil {
		return nil, apperror.ValidationFailed("startDate", "Invalid start date format. Use ISO 8601 format.")
	}
	startLocal := start
	if v := strings.TrimSpace(in.StartDateLocal); v != "" {
		if startLocal, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, apperror.ValidationFailed("startDateLocal", "Invalid start date format. Use ISO 8601 format.")
		}
	}

	a := &model.Activity{
		ID:             id,
		UserID:         userID,
		Name:           strings.TrimSpace(in.Name),
		Type:           strings.TrimSpace(in.Type),
		SportType:      strings.TrimSpace(in.SportType),
		Distance:       *in.Distance,
		MovingTime:     *in.MovingTime,
		ElapsedTime:    *in.MovingTime,
		StartDate:      start.UTC(),
		StartDateLocal: startLocal.UTC(),
		AverageSpeed:   in.AverageSpeed,
		MaxSpeed:       in.MaxSpeed,
		WorkoutType:    in.WorkoutType,
	}
	if a.SportType == "" {
		a.SportType = a.Type
	}
	if in.ElapsedTime != nil && *in.ElapsedTime > 0 {
		a.ElapsedTime = *in.ElapsedTime
	}
	if in.TotalElevation != nil {
		a.TotalElevation = *in.TotalElevation
	}
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		a.Timezone = &tz
	}

	if err := s.activities.Create(ctx, a); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.New(apperror.ErrConflict, MsgActivityExists)
		}
		return nil, fmt.Errorf("service/activities: creating %d: %w", id, err)
	}

	s.logger.Info("activity added", slog.String("user_id", userID), slog.Int64("activity_id", id))
	return a, nil
}

// List returns one page of a rider's activities, found by email or KRID.
func (s *ActivityService) List(ctx context.Context, q model.ActivityQuery) (*model.ActivityPage, error) {
	email := strings.TrimSpace(q.Email)
	krid := strings.TrimSpace(q.KRID)
	if email == "" && krid == "" {
		return nil, apperror.ValidationFailed("", "Either email or krid parameter is required")
	}

	var (
		user *model.User
		err  error
	)
	if email != "" {
		user, err = s.users.GetByEmail(ctx, email)
	} else {
		user, err = s.users.GetByKRID(ctx, krid)
	}
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.New(apperror.ErrNotFound, MsgUserNotFound)
		}
		return nil, fmt.Errorf("service/activities: looking up owner: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultActivityLimit
	}
	if limit > MaxActivityLimit {
		limit = MaxActivityLimit
	}
	offset := max(q.Offset, 0)

	filter := model.ActivityFilter{
		UserID:    user.ID,
		SportType: strings.TrimSpace(q.SportType),
		StartDate: q.StartDate,
		EndDate:   q.EndDate,
		Limit:     limit,
		Offset:    offset,
	}

	total, err := s.activities.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/activities: counting: %w", err)
	}
	list, err := s.activities.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/activities: listing: %w", err)
	}

	page := &model.ActivityPage{
		Activities: list,
		Pagination: model.Pagination{
			Total:       total,
			Limit:       limit,
			Offset:      offset,
			HasMore:     offset+limit < total,
			TotalPages:  (total + limit - 1) / limit,
			CurrentPage: offset/limit + 1,
		},
		Filters: model.ActivityFiltersEcho{
			Email:     optionalString(email),
			KRID:      optionalString(krid),
			SportType: optionalString(filter.SportType),
			StartDate: optionalTime(q.StartDate),
			EndDate:   optionalTime(q.EndDate),
		},
	}
	return page, nil
}

// parseActivityID accepts digits only, as Strava ids are unsigned.
func parseActivityID(v string) (int64, error) {
	v = strings.TrimSpace(v)
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("non-digit in %q", v)
		}
	}
	return strconv.ParseInt(v, 10, 64)
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func optionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}
