package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/chatdb"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
)

// DocumentStore keeps one session row per user in the chat database. The
// row has no TTL of its own; expired rows are removed by Sweep.
type DocumentStore struct {
	db  *chatdb.DB
	log logger.Logger
}

func NewDocumentStore(db *chatdb.DB, log logger.Logger) *DocumentStore {
	return &DocumentStore{
		db:  db,
		log: logger.OrNop(log).With("component", "session", "backend", "document"),
	}
}

func (d *DocumentStore) FindByUser(ctx context.Context, userID string) (*Session, error) {
	row, err := d.db.FindSessionByUser(ctx, userID)
	if errors.Is(err, chatdb.ErrNotFound) {
		return nil, chat.ErrSessionNotFound
	}
	if err != nil {
		d.log.Error("session lookup failed", "op", "findByUser", "userId", userID, "error", err)
		return nil, chat.ErrStoreUnavailable.Wrap(err)
	}

	sess, err := decode(row.Payload)
	if err != nil {
		d.log.Warn("session payload unreadable", "op", "findByUser", "userId", userID, "error", err)
		return nil, chat.ErrSessionNotFound.Wrap(err)
	}
	return sess, nil
}

// Save replaces whatever session the user had.
func (d *DocumentStore) Save(ctx context.Context, sess *Session) (*Session, error) {
	if err := validate(sess); err != nil {
		return nil, err
	}
	raw, err := encode(sess)
	if err != nil {
		return nil, err
	}

	if err := d.db.UpsertSession(ctx, chatdb.SessionRow{
		UserID:       sess.UserID,
		SessionID:    sess.SessionID,
		CreatedAt:    sess.CreatedAt,
		ExpiresAt:    sess.ExpiresAt,
		LastActivity: sess.LastActivity,
		Payload:      raw,
	}); err != nil {
		d.log.Error("session write failed", "op", "save", "userId", sess.UserID, "error", err)
		return nil, fmt.Errorf("session: save: %w", err)
	}
	return sess, nil
}

func (d *DocumentStore) Delete(ctx context.Context, userID, sessionID string) error {
	if err := d.db.DeleteSession(ctx, userID, sessionID); err != nil {
		d.log.Error("session delete failed", "op", "delete", "userId", userID, "error", err)
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

func (d *DocumentStore) DeleteAll(ctx context.Context, userID string) error {
	if err := d.db.DeleteSessionsByUser(ctx, userID); err != nil {
		d.log.Error("session delete all failed", "op", "deleteAll", "userId", userID, "error", err)
		return fmt.Errorf("session: delete all: %w", err)
	}
	return nil
}

// Sweep deletes sessions that expired before now.
func (d *DocumentStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	n, err := d.db.DeleteExpiredSessions(ctx, now)
	if err != nil {
		d.log.Warn("session sweep failed", "op", "sweep", "error", err)
		return 0, err
	}
	if n > 0 {
		d.log.Debug("expired sessions removed", "op", "sweep", "count", n)
	}
	return n, nil
}
