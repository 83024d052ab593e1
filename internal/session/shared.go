package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/chat"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore"
)

const (
	SessionKeyPrefix     = "session:"
	UserSessionKeyPrefix = "user_sessions:"
)

// SharedStore keeps sessions in the shared store: one JSON value per
// (user, session) pair and one set of session ids per user, both expiring
// after ttl and both rewritten on every Save.
type SharedStore struct {
	client sharedstore.Client
	ttl    time.Duration
	log    logger.Logger
}

// NewSharedStore creates the store; a non-positive ttl uses DefaultTTL.
func NewSharedStore(client sharedstore.Client, ttl time.Duration, log logger.Logger) *SharedStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SharedStore{
		client: client,
		ttl:    ttl,
		log:    logger.OrNop(log).With("component", "session", "backend", "shared"),
	}
}

func sessionKey(userID, sessionID string) string {
	return SessionKeyPrefix + userID + ":" + sessionID
}

func userSessionsKey(userID string) string {
	return UserSessionKeyPrefix + userID
}

// FindByUser loads one member of the user's session set. Members whose
// value is gone or unreadable count as no session.
func (s *SharedStore) FindByUser(ctx context.Context, userID string) (*Session, error) {
	ids, err := s.client.SMembers(ctx, userSessionsKey(userID))
	if err != nil {
		s.log.Error("session lookup failed", "op", "findByUser", "userId", userID, "error", err)
		return nil, chat.ErrStoreUnavailable.Wrap(err)
	}
	if len(ids) == 0 {
		return nil, chat.ErrSessionNotFound
	}
	sort.Strings(ids)
	if len(ids) > 1 {
		s.log.Warn("user has several sessions, using one", "op", "findByUser", "userId", userID, "count", len(ids))
	}

	raw, err := s.client.Get(ctx, sessionKey(userID, ids[0]))
	if errors.Is(err, sharedstore.ErrNotFound) {
		return nil, chat.ErrSessionNotFound
	}
	if err != nil {
		s.log.Error("session read failed", "op", "findByUser", "userId", userID, "error", err)
		return nil, chat.ErrStoreUnavailable.Wrap(err)
	}

	sess, err := decode(raw)
	if err != nil {
		s.log.Warn("session payload unreadable", "op", "findByUser", "userId", userID, "error", err)
		return nil, chat.ErrSessionNotFound.Wrap(err)
	}
	return sess, nil
}

// Save writes the value with its TTL in one SET and refreshes the set.
func (s *SharedStore) Save(ctx context.Context, sess *Session) (*Session, error) {
	if err := validate(sess); err != nil {
		return nil, err
	}
	raw, err := encode(sess)
	if err != nil {
		return nil, err
	}

	if err := s.client.Set(ctx, sessionKey(sess.UserID, sess.SessionID), raw, s.ttl); err != nil {
		s.log.Error("session write failed", "op", "save", "userId", sess.UserID, "error", err)
		return nil, fmt.Errorf("session: save: %w", err)
	}

	setKey := userSessionsKey(sess.UserID)
	if err := s.client.SAdd(ctx, setKey, sess.SessionID); err != nil {
		s.log.Error("session index write failed", "op", "save", "userId", sess.UserID, "error", err)
		return nil, fmt.Errorf("session: index: %w", err)
	}
	if err := s.client.Expire(ctx, setKey, s.ttl); err != nil {
		s.log.Warn("session index expiry not refreshed", "op", "save", "userId", sess.UserID, "error", err)
	}
	return sess, nil
}

// Delete removes both the value and the set member. A failure of one step
// does not stop the other; both are logged and returned together.
func (s *SharedStore) Delete(ctx context.Context, userID, sessionID string) error {
	var errs []error
	if err := s.client.Del(ctx, sessionKey(userID, sessionID)); err != nil {
		s.log.Error("session delete failed", "op", "delete", "userId", userID, "error", err)
		errs = append(errs, err)
	}
	if err := s.client.SRem(ctx, userSessionsKey(userID), sessionID); err != nil {
		s.log.Error("session index delete failed", "op", "delete", "userId", userID, "error", err)
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// DeleteAll removes every session of the user and then the set itself.
func (s *SharedStore) DeleteAll(ctx context.Context, userID string) error {
	setKey := userSessionsKey(userID)
	ids, err := s.client.SMembers(ctx, setKey)
	if err != nil {
		s.log.Error("session list failed", "op", "deleteAll", "userId", userID, "error", err)
		return fmt.Errorf("session: delete all: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(userID, id))
	}
	keys = append(keys, setKey)

	if err := s.client.Del(ctx, keys...); err != nil {
		s.log.Error("session delete all failed", "op", "deleteAll", "userId", userID, "error", err)
		return fmt.Errorf("session: delete all: %w", err)
	}
	return nil
}
