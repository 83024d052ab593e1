package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
)

// CreateUser inserts or replaces a user row.
func (d *DB) CreateUser(ctx context.Context, u chat.User) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		u.ID, u.Name, u.Email,
	)
	if err != nil {
		return fmt.Errorf("chatdb: create user: %w", err)
	}
	return nil
}

// FindUserByID returns ErrNotFound when no user has id.
func (d *DB) FindUserByID(ctx context.Context, id string) (*chat.User, error) {
	var u chat.User
	err := d.db.QueryRowContext(ctx, `SELECT id, name, email FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatdb: find user: %w", err)
	}
	return &u, nil
}

// FindUsersByIDs resolves every id with one query. Unknown ids are simply
// absent from the result.
func (d *DB) FindUsersByIDs(ctx context.Context, ids []string) ([]chat.User, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, email FROM users WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("chatdb: query users: %w", err)
	}
	defer rows.Close()

	users := make([]chat.User, 0, len(ids))
	for rows.Next() {
		var u chat.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, fmt.Errorf("chatdb: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatdb: users iteration: %w", err)
	}
	return users, nil
}
