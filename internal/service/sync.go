package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
	"github.com/keralariders/server/internal/strava"
)

// syncConcurrency bounds how many users SyncAll talks to Strava for at once.
const syncConcurrency = 4

// MsgStravaNotConnected is returned when syncing a user without Strava.
const MsgStravaNotConnected = "Strava not connected. Please connect your Strava account first."

// SyncDetails counts what one user's sync did.
type SyncDetails struct {
	UserCreated       bool     `json:"userCreated"`
	ActivitiesFetched int      `json:"activitiesFetched"`
	ActivitiesStored  int      `json:"activitiesStored"`
	ActivitiesSkipped int      `json:"activitiesSkipped"`
	Errors            []string `json:"errors"`
}

// SyncResult is the response of POST /api/sync-activities.
type SyncResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Details SyncDetails `json:"details"`
}

// SyncStats summarises a SyncAll run.
type SyncStats struct {
	TotalUsers             int      `json:"totalUsers"`
	SuccessfulSyncs        int      `json:"successfulSyncs"`
	FailedSyncs            int      `json:"failedSyncs"`
	TotalActivitiesStored  int      `json:"totalActivitiesStored"`
	TotalActivitiesSkipped int      `json:"totalActivitiesSkipped"`
	Errors                 []string `json:"errors"`
}

// SyncService copies Strava activities into the activity store.
type SyncService struct {
	users      repository.UserRepository
	activities repository.ActivityRepository
	strava     *StravaService
	api        StravaAPI
	loc        *time.Location
	logger     *slog.Logger
	now        clock
}

func NewSyncService(
	users repository.UserRepository,
	activities repository.ActivityRepository,
	stravaSvc *StravaService,
	api StravaAPI,
	loc *time.Location,
	logger *slog.Logger,
) *SyncService {
	if loc == nil {
		loc = time.UTC
	}
	return &SyncService{
		users:      users,
		activities: activities,
		strava:     stravaSvc,
		api:        api,
		loc:        loc,
		logger:     logger,
		now:        systemClock,
	}
}

// SyncToday stores the user's activities that started today in the
// configured timezone. Activities already stored are skipped; a failure on
// one activity is recorded and the rest still go through.
func (s *SyncService) SyncToday(ctx context.Context, userID string) (*SyncResult, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/sync: loading user %s: %w", userID, err)
	}
	return s.syncUser(ctx, user)
}

func (s *SyncService) syncUser(ctx context.Context, user *model.User) (*SyncResult, error) {
	if !user.Strava.Connected() {
		return nil, apperror.ValidationFailed("strava", MsgStravaNotConnected)
	}

	token, err := s.strava.ValidToken(ctx, user)
	if err != nil {
		return nil, err
	}

	start, end := strava.DayBounds(s.now(), s.loc)
	fetched, err := s.api.ActivitiesBetween(ctx, token, start, end)
	if err != nil {
		return nil, fmt.Errorf("service/sync: fetching activities for %s: %w", user.ID, err)
	}

	result := &SyncResult{
		Success: true,
		Details: SyncDetails{ActivitiesFetched: len(fetched), Errors: []string{}},
	}
	if len(fetched) == 0 {
		result.Message = "No activities found for today. Nothing to sync."
		return result, nil
	}

	for _, sa := range fetched {
		exists, err := s.activities.Exists(ctx, sa.ID)
		if err != nil {
			result.Details.Errors = append(result.Details.Errors, fmt.Sprintf("Activity %d: %v", sa.ID, err))
			continue
		}
		if exists {
			result.Details.ActivitiesSkipped++
			continue
		}

		a := fromStrava(sa, user.ID)
		if err := s.activities.Create(ctx, &a); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				result.Details.ActivitiesSkipped++
				continue
			}
			result.Details.Errors = append(result.Details.Errors, fmt.Sprintf("Activity %d: %v", sa.ID, err))
			continue
		}
		result.Details.ActivitiesStored++
	}

	result.Message = fmt.Sprintf("Sync completed! %d activities stored, %d skipped",
		result.Details.ActivitiesStored, result.Details.ActivitiesSkipped)

	s.logger.Info("activities synced",
		slog.String("user_id", user.ID),
		slog.Int("fetched", result.Details.ActivitiesFetched),
		slog.Int("stored", result.Details.ActivitiesStored),
		slog.Int("skipped", result.Details.ActivitiesSkipped),
		slog.Int("errors", len(result.Details.Errors)),
	)
	return result, nil
}

// SyncAll runs SyncToday for every active, Strava-connected user. A
// failing user is counted and logged and never stops the others. Users not
// yet started when ctx is cancelled are skipped.
func (s *SyncService) SyncAll(ctx context.Context) (*SyncStats, error) {
	users, err := s.users.ListStravaConnected(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/sync: listing users: %w", err)
	}

	stats := &SyncStats{TotalUsers: len(users), Errors: []string{}}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(syncConcurrency)
	for i := range users {
		if ctx.Err() != nil {
			break
		}
		user := &users[i]
		g.Go(func() error {
			res, err := s.syncUser(ctx, user)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.FailedSyncs++
				stats.Errors = append(stats.Errors, fmt.Sprintf("User %s: %v", user.KRID, err))
				s.logger.Warn("sync failed for user",
					slog.String("user_id", user.ID), slog.String("error", err.Error()))
				return nil
			}
			stats.SuccessfulSyncs++
			stats.TotalActivitiesStored += res.Details.ActivitiesStored
			stats.TotalActivitiesSkipped += res.Details.ActivitiesSkipped
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("sync run finished",
		slog.Int("users", stats.TotalUsers),
		slog.Int("ok", stats.SuccessfulSyncs),
		slog.Int("failed", stats.FailedSyncs),
		slog.Int("stored", stats.TotalActivitiesStored),
	)
	return stats, ctx.Err()
}

// fromStrava maps a Strava summary activity onto the stored shape.
func fromStrava(sa strava.Activity, userID string) model.Activity {
	a := model.Activity{
		ID:             sa.ID,
		UserID:         userID,
		Name:           sa.Name,
		Type:           sa.Type,
		SportType:      sa.SportType,
		Distance:       sa.Distance,
		MovingTime:     sa.MovingTime,
		ElapsedTime:    sa.ElapsedTime,
		TotalElevation: sa.TotalElevationGain,
		StartDate:      sa.StartDate.UTC(),
		StartDateLocal: sa.StartDateLocal.UTC(),
		WorkoutType:    sa.WorkoutType,
	}
	if a.SportType == "" {
		a.SportType = a.Type
	}
	if sa.Timezone != "" {
		tz := sa.Timezone
		a.Timezone = &tz
	}
	if sa.AverageSpeed > 0 {
		v := sa.AverageSpeed
		a.AverageSpeed = &v
	}
	if sa.MaxSpeed > 0 {
		v := sa.MaxSpeed
		a.MaxSpeed = &v
	}
	return a
}
