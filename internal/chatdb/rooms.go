package chatdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
)

// CreateRoom inserts a room and its participants in one transaction. The
// creator is always a participant.
func (d *DB) CreateRoom(ctx context.Context, r chat.Room) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chatdb: begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (id, name, creator_id, has_password, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.CreatorID, r.HasPassword, r.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("chatdb: create room: %w", err)
	}

	participants := r.ParticipantIDs
	if r.CreatorID != "" {
		participants = append([]string{r.CreatorID}, participants...)
	}
	for _, uid := range dedupe(participants) {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at)
			VALUES (?, ?, ?)`,
			r.ID, uid, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("chatdb: add participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chatdb: commit create room: %w", err)
	}
	return nil
}

// AddParticipant adds userID to the room; adding twice is a no-op.
func (d *DB) AddParticipant(ctx context.Context, roomID, userID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_participants (room_id, user_id, joined_at)
		VALUES (?, ?, ?)`,
		roomID, userID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("chatdb: add participant: %w", err)
	}
	return nil
}

// FindRoomByID returns the room with its participant ids, or ErrNotFound.
func (d *DB) FindRoomByID(ctx context.Context, id string) (*chat.Room, error) {
	var r chat.Room
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, creator_id, has_password, created_at
		FROM rooms WHERE id = ?`, id,
	).Scan(&r.ID, &r.Name, &r.CreatorID, &r.HasPassword, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatdb: find room: %w", err)
	}

	byRoom, err := d.participantsOf(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	r.ParticipantIDs = byRoom[id]
	return &r, nil
}

// ListRooms returns one page of rooms, newest first, participants included.
// Participants for the whole page come from a single query.
func (d *DB) ListRooms(ctx context.Context, limit, offset int) ([]chat.Room, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, name, creator_id, has_password, created_at
		FROM rooms
		ORDER BY created_at DESC, id ASC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("chatdb: list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []chat.Room
	for rows.Next() {
		var r chat.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatorID, &r.HasPassword, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("chatdb: scan room: %w", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatdb: rooms iteration: %w", err)
	}
	if len(rooms) == 0 {
		return rooms, nil
	}

	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	byRoom, err := d.participantsOf(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rooms {
		rooms[i].ParticipantIDs = byRoom[rooms[i].ID]
	}
	return rooms, nil
}

func (d *DB) participantsOf(ctx context.Context, roomIDs []string) (map[string][]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT room_id, user_id FROM room_participants
		WHERE room_id IN (`+placeholders(len(roomIDs))+`)
		ORDER BY joined_at ASC, user_id ASC`,
		stringArgs(roomIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("chatdb: query participants: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string, len(roomIDs))
	for rows.Next() {
		var roomID, userID string
		if err := rows.Scan(&roomID, &userID); err != nil {
			return nil, fmt.Errorf("chatdb: scan participant: %w", err)
		}
		out[roomID] = append(out[roomID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatdb: participants iteration: %w", err)
	}
	return out, nil
}
