package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/keralariders/server/internal/apperror"
	"github.com/keralariders/server/internal/model"
	"github.com/keralariders/server/internal/repository"
)

var (
	_ repository.SessionRepository = (*SessionDB)(nil)
	_ repository.CodeRepository    = (*CodeDB)(nil)
)

// SessionDB is the sessions table.
type SessionDB struct {
	conn *sql.DB
}

func (s *SessionDB) Create(ctx context.Context, session *model.Session) error {
	session.ID = xid.New().String()
	session.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, refresh_hash, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.RefreshHash,
		toMillis(session.ExpiresAt), toMillis(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating session for %s: %w", session.UserID, err)
	}
	return nil
}

// GetByHash returns the session regardless of expiry; callers check
// ExpiresAt themselves.
func (s *SessionDB) GetByHash(ctx context.Context, hash string) (*model.Session, error) {
	var (
		sess                 model.Session
		expiresAt, createdAt int64
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, user_id, refresh_hash, expires_at, created_at
		 FROM sessions WHERE refresh_hash = ?`, hash,
	).Scan(&sess.ID, &sess.UserID, &sess.RefreshHash, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", "")
		}
		return nil, fmt.Errorf("sqlite: getting session: %w", err)
	}
	sess.ExpiresAt = fromMillis(expiresAt)
	sess.CreatedAt = fromMillis(createdAt)
	return &sess, nil
}

// Delete is idempotent.
func (s *SessionDB) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: deleting session %s: %w", id, err)
	}
	return nil
}

func (s *SessionDB) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: deleting sessions for %s: %w", userID, err)
	}
	return nil
}

// CodeDB is the email_codes table.
type CodeDB struct {
	conn *sql.DB
}

func (c *CodeDB) Create(ctx context.Context, code *model.EmailCode) error {
	code.ID = xid.New().String()
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	_, err := c.conn.ExecContext(ctx,
		`INSERT INTO email_codes (id, user_id, purpose, code_hash, expires_at, attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		code.ID, code.UserID, code.Purpose, code.CodeHash,
		toMillis(code.ExpiresAt), code.Attempts, toMillis(code.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating %s code for %s: %w", code.Purpose, code.UserID, err)
	}
	return nil
}

func (c *CodeDB) Latest(ctx context.Context, userID, purpose string) (*model.EmailCode, error) {
	var (
		code                 model.EmailCode
		expiresAt, createdAt int64
		consumedAt           sql.NullInt64
	)
	err := c.conn.QueryRowContext(ctx,
		`SELECT id, user_id, purpose, code_hash, expires_at, attempts, consumed_at, created_at
		 FROM email_codes
		 WHERE user_id = ? AND purpose = ? AND consumed_at IS NULL
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT 1`,
		userID, purpose,
	).Scan(&code.ID, &code.UserID, &code.Purpose, &code.CodeHash,
		&expiresAt, &code.Attempts, &consumedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(purpose+" code", userID)
		}
		return nil, fmt.Errorf("sqlite: getting %s code for %s: %w", purpose, userID, err)
	}
	code.ExpiresAt = fromMillis(expiresAt)
	code.CreatedAt = fromMillis(createdAt)
	code.ConsumedAt = nullToTimePtr(consumedAt)
	return &code, nil
}

func (c *CodeDB) IncrementAttempts(ctx context.Context, id string) error {
	res, err := c.conn.ExecContext(ctx,
		`UPDATE email_codes SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: incrementing attempts on code %s: %w", id, err)
	}
	return requireRow(res, "code", id)
}

// Consume marks an unconsumed code used. A code that was already consumed
// returns apperror.ErrNotFound so it can never be redeemed twice.
func (c *CodeDB) Consume(ctx context.Context, id string, at time.Time) error {
	res, err := c.conn.ExecContext(ctx,
		`UPDATE email_codes SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL`,
		toMillis(at), id)
	if err != nil {
		return fmt.Errorf("sqlite: consuming code %s: %w", id, err)
	}
	return requireRow(res, "code", id)
}
