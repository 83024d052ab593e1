package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRow is one user's stored session. Payload is the serialized
// session as text, so rows stay readable by any store backend.
type SessionRow struct {
	UserID       string
	SessionID    string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastActivity time.Time
	Payload      string
}

// UpsertSession writes the row for r.UserID, replacing any earlier session
// of that user.
func (d *DB) UpsertSession(ctx context.Context, r SessionRow) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, session_id, created_at, expires_at, last_activity, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			session_id    = excluded.session_id,
			created_at    = excluded.created_at,
			expires_at    = excluded.expires_at,
			last_activity = excluded.last_activity,
			payload       = excluded.payload`,
		r.UserID, r.SessionID, r.CreatedAt.UTC(), r.ExpiresAt.UTC(), r.LastActivity.UTC(), r.Payload,
	)
	if err != nil {
		return fmt.Errorf("chatdb: upsert session: %w", err)
	}
	return nil
}

// FindSessionByUser returns ErrNotFound when the user has no row.
func (d *DB) FindSessionByUser(ctx context.Context, userID string) (*SessionRow, error) {
	var r SessionRow
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, session_id, created_at, expires_at, last_activity, payload
		FROM sessions WHERE user_id = ?`, userID,
	).Scan(&r.UserID, &r.SessionID, &r.CreatedAt, &r.ExpiresAt, &r.LastActivity, &r.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatdb: find session: %w", err)
	}
	return &r, nil
}

// DeleteSession removes the user's row only if it holds sessionID.
func (d *DB) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if _, err := d.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID,
	); err != nil {
		return fmt.Errorf("chatdb: delete session: %w", err)
	}
	return nil
}

// DeleteSessionsByUser removes whatever session the user has.
func (d *DB) DeleteSessionsByUser(ctx context.Context, userID string) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("chatdb: delete sessions: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes rows whose expiry is before now and returns
// how many went.
func (d *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("chatdb: delete expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("chatdb: rows affected: %w", err)
	}
	return n, nil
}
