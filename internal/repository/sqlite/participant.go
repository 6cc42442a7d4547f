package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

var _ repository.ParticipantRepository = (*ParticipantDB)(nil)

// ParticipantDB is the event_participants table.
//
// Queue order is registered_at then rowid, so two joins in the same
// millisecond still promote in insertion order.
type ParticipantDB struct {
	conn *sql.DB
}

func scanParticipant(s rowScanner) (*model.EventParticipant, error) {
	var (
		p            model.EventParticipant
		registeredAt int64
	)
	if err := s.Scan(&p.ID, &p.EventID, &p.UserID, &p.Status, &registeredAt); err != nil {
		return nil, err
	}
	p.RegisteredAt = fromMillis(registeredAt)
	return &p, nil
}

// Get returns apperror.ErrNotFound when the user has no row for the event.
func (d *ParticipantDB) Get(ctx context.Context, eventID, userID string) (*model.EventParticipant, error) {
	p, err := scanParticipant(d.conn.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, status, registered_at
		 FROM event_participants WHERE event_id = ? AND user_id = ?`,
		eventID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("participant", userID)
		}
		return nil, fmt.Errorf("sqlite: getting participant %s/%s: %w", eventID, userID, err)
	}
	return p, nil
}

func (d *ParticipantDB) Add(ctx context.Context, p *model.EventParticipant) error {
	p.ID = uuid.NewString()
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO event_participants (id, event_id, user_id, status, registered_at)
		 VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.EventID, p.UserID, p.Status, toMillis(p.RegisteredAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("participant", p.UserID)
		}
		return fmt.Errorf("sqlite: adding participant %s to %s: %w", p.UserID, p.EventID, err)
	}
	return nil
}

func (d *ParticipantDB) Remove(ctx context.Context, eventID, userID string) (bool, error) {
	res, err := d.conn.ExecContext(ctx,
		`DELETE FROM event_participants WHERE event_id = ? AND user_id = ?`, eventID, userID)
	if err != nil {
		return false, fmt.Errorf("sqlite: removing participant %s from %s: %w", userID, eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	return n > 0, nil
}

func (d *ParticipantDB) CountRegistered(ctx context.Context, eventID string) (int, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_participants WHERE event_id = ? AND status = ?`,
		eventID, model.StatusRegistered,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting participants of %s: %w", eventID, err)
	}
	return n, nil
}

func (d *ParticipantDB) FirstWaitlisted(ctx context.Context, eventID string) (*model.EventParticipant, error) {
	p, err := scanParticipant(d.conn.QueryRowContext(ctx,
		`SELECT id, event_id, user_id, status, registered_at
		 FROM event_participants
		 WHERE event_id = ? AND status = ?
		 ORDER BY registered_at ASC, rowid ASC
		 LIMIT 1`,
		eventID, model.StatusWaitlist))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: getting waitlist head of %s: %w", eventID, err)
	}
	return p, nil
}

func (d *ParticipantDB) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE event_participants SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("sqlite: updating participant %s: %w", id, err)
	}
	return requireRow(res, "participant", id)
}

// ListForEvents loads all participants of the given events in one query.
// Events without participants are absent from the map.
func (d *ParticipantDB) ListForEvents(ctx context.Context, eventIDs []string) (map[string][]model.ParticipantDetails, error) {
	out := make(map[string][]model.ParticipantDetails, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(eventIDs))
	for i, id := range eventIDs {
		args[i] = id
	}

	rows, err := d.conn.QueryContext(ctx,
		`SELECT p.id, p.event_id, p.user_id, p.status, p.registered_at, u.krid, u.name, u.email
		 FROM event_participants p
		 JOIN users u ON u.id = p.user_id
		 WHERE p.event_id IN (`+placeholders(len(eventIDs))+`)
		 ORDER BY p.registered_at ASC, p.rowid ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			pd           model.ParticipantDetails
			registeredAt int64
		)
		if err := rows.Scan(&pd.ID, &pd.EventID, &pd.UserID, &pd.Status, &registeredAt,
			&pd.User.KRID, &pd.User.Name, &pd.User.Email); err != nil {
			return nil, fmt.Errorf("sqlite: scanning participant: %w", err)
		}
		pd.RegisteredAt = fromMillis(registeredAt)
		out[pd.EventID] = append(out[pd.EventID], pd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating participants: %w", err)
	}
	return out, nil
}
