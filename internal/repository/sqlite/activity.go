package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

var _ repository.ActivityRepository = (*ActivityDB)(nil)

// ActivityDB is the strava_activities table. The primary key is Strava's
// own activity id.
type ActivityDB struct {
	conn *sql.DB
}

func (d *ActivityDB) Exists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM strava_activities WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking activity %d: %w", id, err)
	}
	return n > 0, nil
}

// Create never overwrites; a duplicate id is apperror.ErrConflict.
func (d *ActivityDB) Create(ctx context.Context, a *model.Activity) error {
	a.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO strava_activities (id, user_id, name, type, sport_type, distance, moving_time,
			elapsed_time, total_elevation, start_date, start_date_local, timezone, average_speed,
			max_speed, workout_type, created_at)
		 VALUES (`+placeholders(16)+`)`,
		a.ID, a.UserID, a.Name, a.Type, a.SportType, a.Distance, a.MovingTime,
		a.ElapsedTime, a.TotalElevation, toMillis(a.StartDate), toMillis(a.StartDateLocal),
		stringPtrToNull(a.Timezone), floatPtrToNull(a.AverageSpeed), floatPtrToNull(a.MaxSpeed),
		intPtrToNull(a.WorkoutType), toMillis(a.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("activity", fmt.Sprint(a.ID))
		}
		return fmt.Errorf("sqlite: creating activity %d: %w", a.ID, err)
	}
	return nil
}

func activityWhere(f model.ActivityFilter) (string, []any) {
	where := []string{"user_id = ?"}
	args := []any{f.UserID}
	if f.SportType != "" {
		where = append(where, "sport_type = ?")
		args = append(args, f.SportType)
	}
	if f.StartDate != nil {
		where = append(where, "start_date >= ?")
		args = append(args, toMillis(*f.StartDate))
	}
	if f.EndDate != nil {
		where = append(where, "start_date <= ?")
		args = append(args, toMillis(*f.EndDate))
	}
	return strings.Join(where, " AND "), args
}

// List returns a page of activities, newest first.
func (d *ActivityDB) List(ctx context.Context, f model.ActivityFilter) ([]model.Activity, error) {
	where, args := activityWhere(f)
	args = append(args, f.Limit, f.Offset)

	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, user_id, name, type, sport_type, distance, moving_time, elapsed_time,
			total_elevation, start_date, start_date_local, timezone, average_speed, max_speed,
			workout_type, created_at
		 FROM strava_activities
		 WHERE `+where+`
		 ORDER BY start_date DESC, id DESC
		 LIMIT ? OFFSET ?`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing activities: %w", err)
	}
	defer rows.Close()

	activities := make([]model.Activity, 0)
	for rows.Next() {
		var (
			a                         model.Activity
			start, startLocal, create int64
			timezone                  sql.NullString
			avgSpeed, maxSpeed        sql.NullFloat64
			workoutType               sql.NullInt64
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.SportType, &a.Distance,
			&a.MovingTime, &a.ElapsedTime, &a.TotalElevation, &start, &startLocal, &timezone,
			&avgSpeed, &maxSpeed, &workoutType, &create); err != nil {
			return nil, fmt.Errorf("sqlite: scanning activity: %w", err)
		}
		a.StartDate = fromMillis(start)
		a.StartDateLocal = fromMillis(startLocal)
		a.Timezone = nullToStringPtr(timezone)
		a.AverageSpeed = nullToFloatPtr(avgSpeed)
		a.MaxSpeed = nullToFloatPtr(maxSpeed)
		a.WorkoutType = nullToIntPtr(workoutType)
		a.CreatedAt = fromMillis(create)
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating activities: %w", err)
	}
	return activities, nil
}

// Count ignores Limit and Offset.
func (d *ActivityDB) Count(ctx context.Context, f model.ActivityFilter) (int, error) {
	where, args := activityWhere(f)
	var n int
	if err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM strava_activities WHERE `+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting activities: %w", err)
	}
	return n, nil
}
