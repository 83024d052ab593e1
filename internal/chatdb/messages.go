package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
)

// CreateMessage inserts a message. Readers on m are ignored; read receipts
// are only ever added through MarkRead.
func (d *DB) CreateMessage(ctx context.Context, m chat.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Type == "" {
		m.Type = "text"
	}

	var fileID any
	if m.FileID != "" {
		fileID = m.FileID
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, type, file_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.RoomID, m.SenderID, m.Content, m.Type, fileID, m.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("chatdb: create message: %w", err)
	}
	return nil
}

// FindMessageByID returns the message with its readers, or ErrNotFound.
func (d *DB) FindMessageByID(ctx context.Context, id string) (*chat.Message, error) {
	m, err := d.scanMessage(d.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, type, file_id, created_at
		FROM messages WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	readers, err := d.Readers(ctx, id)
	if err != nil {
		return nil, err
	}
	m.Readers = readers
	return m, nil
}

// FindMessageByFileID returns the message carrying fileID, or ErrNotFound.
func (d *DB) FindMessageByFileID(ctx context.Context, fileID string) (*chat.Message, error) {
	return d.scanMessage(d.db.QueryRowContext(ctx, `
		SELECT id, room_id, sender_id, content, type, file_id, created_at
		FROM messages WHERE file_id = ?
		ORDER BY created_at ASC LIMIT 1`, fileID))
}

func (d *DB) scanMessage(row *sql.Row) (*chat.Message, error) {
	var (
		m      chat.Message
		fileID sql.NullString
	)
	err := row.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &fileID, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatdb: scan message: %w", err)
	}
	m.FileID = fileID.String
	return &m, nil
}

// Readers lists the read receipts of one message in read order.
func (d *DB) Readers(ctx context.Context, messageID string) ([]chat.Reader, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, read_at FROM message_readers
		WHERE message_id = ?
		ORDER BY read_at ASC, user_id ASC`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatdb: query readers: %w", err)
	}
	defer rows.Close()

	var readers []chat.Reader
	for rows.Next() {
		var r chat.Reader
		if err := rows.Scan(&r.UserID, &r.ReadAt); err != nil {
			return nil, fmt.Errorf("chatdb: scan reader: %w", err)
		}
		readers = append(readers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatdb: readers iteration: %w", err)
	}
	return readers, nil
}

// FindSenders maps each existing message id to its sender with one query.
func (d *DB) FindSenders(ctx context.Context, messageIDs []string) (map[string]string, error) {
	ids := dedupe(messageIDs)
	senders := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return senders, nil
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, sender_id FROM messages WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("chatdb: query senders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, sender string
		if err := rows.Scan(&id, &sender); err != nil {
			return nil, fmt.Errorf("chatdb: scan sender: %w", err)
		}
		senders[id] = sender
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatdb: senders iteration: %w", err)
	}
	return senders, nil
}

// MarkRead adds userID as a reader of every listed message that does not
// already have it, in one statement, and returns the ids it touched.
// Messages already read by userID keep their original read time.
func (d *DB) MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) ([]string, error) {
	ids := dedupe(messageIDs)
	if len(ids) == 0 || userID == "" {
		return nil, nil
	}

	args := make([]any, 0, len(ids)+3)
	args = append(args, userID, at.UTC())
	args = append(args, stringArgs(ids)...)
	args = append(args, userID)

	rows, err := d.db.QueryContext(ctx, `
		INSERT OR IGNORE INTO message_readers (message_id, user_id, read_at)
		SELECT m.id, ?, ? FROM messages m
		WHERE m.id IN (`+placeholders(len(ids))+`)
		AND NOT EXISTS (
			SELECT 1 FROM message_readers r
			WHERE r.message_id = m.id AND r.user_id = ?
		)
		RETURNING message_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("chatdb: mark read: %w", err)
	}
	defer rows.Close()

	var updated []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatdb: scan marked id: %w", err)
		}
		updated = append(updated, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatdb: mark read iteration: %w", err)
	}
	return updated, nil
}
