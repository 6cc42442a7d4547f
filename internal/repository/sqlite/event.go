package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

var _ repository.EventRepository = (*EventDB)(nil)

// EventDB is the events table.
type EventDB struct {
	conn *sql.DB
}

const eventColumns = `e.id, e.title, e.description, e.date, e.location, e.max_participants,
	e.category, e.difficulty, e.distance, e.registration_deadline, e.created_by, e.is_active,
	e.created_at, e.updated_at`

func scanEvent(s rowScanner) (*model.Event, error) {
	var (
		e                       model.Event
		description, difficulty sql.NullString
		maxParticipants         sql.NullInt64
		distance                sql.NullFloat64
		deadline                sql.NullInt64
		date, created, updated  int64
	)
	err := s.Scan(&e.ID, &e.Title, &description, &date, &e.Location, &maxParticipants,
		&e.Category, &difficulty, &distance, &deadline, &e.CreatedBy, &e.IsActive,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	e.Description = nullToStringPtr(description)
	e.Date = fromMillis(date)
	e.MaxParticipants = nullToIntPtr(maxParticipants)
	e.Difficulty = nullToStringPtr(difficulty)
	e.Distance = nullToFloatPtr(distance)
	e.RegistrationDeadline = nullToTimePtr(deadline)
	e.CreatedAt = fromMillis(created)
	e.UpdatedAt = fromMillis(updated)
	return &e, nil
}

func (d *EventDB) Create(ctx context.Context, event *model.Event) error {
	event.ID = uuid.NewString()
	event.IsActive = true
	now := time.Now().UTC().Truncate(time.Millisecond)
	event.CreatedAt = now
	event.UpdatedAt = now

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO events (id, title, description, date, location, max_participants, category,
			difficulty, distance, registration_deadline, created_by, is_active, created_at, updated_at)
		 VALUES (`+placeholders(14)+`)`,
		event.ID, event.Title, stringPtrToNull(event.Description), toMillis(event.Date),
		event.Location, intPtrToNull(event.MaxParticipants), event.Category,
		stringPtrToNull(event.Difficulty), floatPtrToNull(event.Distance),
		timePtrToNull(event.RegistrationDeadline), event.CreatedBy, 1,
		toMillis(now), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating event: %w", err)
	}
	return nil
}

// Get returns an active event, or apperror.ErrNotFound.
func (d *EventDB) Get(ctx context.Context, id string) (*model.Event, error) {
	e, err := scanEvent(d.conn.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events e WHERE e.id = ? AND e.is_active = 1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("event", id)
		}
		return nil, fmt.Errorf("sqlite: getting event %s: %w", id, err)
	}
	return e, nil
}

// List returns active events matching filters, soonest first.
func (d *EventDB) List(ctx context.Context, f model.EventFilters) ([]model.Event, error) {
	where := []string{"e.is_active = 1"}
	var args []any

	if f.Category != "" {
		where = append(where, "e.category = ?")
		args = append(args, f.Category)
	}
	if f.Difficulty != "" {
		where = append(where, "e.difficulty = ?")
		args = append(args, f.Difficulty)
	}
	if f.DateFrom != nil {
		where = append(where, "e.date >= ?")
		args = append(args, toMillis(*f.DateFrom))
	}
	if f.DateTo != nil {
		where = append(where, "e.date <= ?")
		args = append(args, toMillis(*f.DateTo))
	}
	if f.Location != "" {
		where = append(where, "LOWER(e.location) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(f.Location))+"%")
	}

	return d.query(ctx,
		`SELECT `+eventColumns+` FROM events e
		 WHERE `+strings.Join(where, " AND ")+`
		 ORDER BY e.date ASC, e.rowid ASC`, args...)
}

// ListByCreator returns the active events a user organises, soonest first.
func (d *EventDB) ListByCreator(ctx context.Context, userID string) ([]model.Event, error) {
	return d.query(ctx,
		`SELECT `+eventColumns+` FROM events e
		 WHERE e.created_by = ? AND e.is_active = 1
		 ORDER BY e.date ASC, e.rowid ASC`, userID)
}

// ListJoined returns the active events a user participates in, registered
// or waitlisted, soonest first.
func (d *EventDB) ListJoined(ctx context.Context, userID string) ([]model.Event, error) {
	return d.query(ctx,
		`SELECT `+eventColumns+` FROM events e
		 JOIN event_participants p ON p.event_id = e.id
		 WHERE p.user_id = ? AND e.is_active = 1
		 ORDER BY e.date ASC, e.rowid ASC`, userID)
}

func (d *EventDB) query(ctx context.Context, q string, args ...any) ([]model.Event, error) {
	rows, err := d.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing events: %w", err)
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning event: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating events: %w", err)
	}
	return events, nil
}

// Update overwrites the mutable columns of an active event.
func (d *EventDB) Update(ctx context.Context, event *model.Event) error {
	event.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	res, err := d.conn.ExecContext(ctx,
		`UPDATE events SET title = ?, description = ?, date = ?, location = ?, max_participants = ?,
			category = ?, difficulty = ?, distance = ?, registration_deadline = ?, updated_at = ?
		 WHERE id = ? AND is_active = 1`,
		event.Title, stringPtrToNull(event.Description), toMillis(event.Date), event.Location,
		intPtrToNull(event.MaxParticipants), event.Category, stringPtrToNull(event.Difficulty),
		floatPtrToNull(event.Distance), timePtrToNull(event.RegistrationDeadline),
		toMillis(event.UpdatedAt), event.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating event %s: %w", event.ID, err)
	}
	return requireRow(res, "event", event.ID)
}

func (d *EventDB) SoftDelete(ctx context.Context, id, creatorID string) (bool, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE events SET is_active = 0, updated_at = ?
		 WHERE id = ? AND created_by = ? AND is_active = 1`,
		toMillis(time.Now()), id, creatorID,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: deleting event %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
