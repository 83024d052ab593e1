// Package session persists authenticated sessions and issues the signed
// tokens clients present when they connect.
//
// A user is expected to hold one active session. The shared store keeps a
// set of session ids per user and FindByUser treats one member as
// canonical; Authenticator evicts older sessions on login when single
// session mode is enabled so that the pick is never ambiguous.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL is how long a session lives after its last validated use.
const DefaultTTL = 30 * time.Minute

// Session is one authenticated login.
type Session struct {
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	LastActivity time.Time `json:"lastActivity"`
	UserAgent    string    `json:"userAgent,omitempty"`
	IPAddress    string    `json:"ipAddress,omitempty"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Store is implemented by SharedStore and DocumentStore.
//
// FindByUser returns chat.ErrSessionNotFound when the user has no readable
// session; any other error is a store failure and callers must deny.
type Store interface {
	FindByUser(ctx context.Context, userID string) (*Session, error)
	Save(ctx context.Context, s *Session) (*Session, error)
	Delete(ctx context.Context, userID, sessionID string) error
	DeleteAll(ctx context.Context, userID string) error
}

func encode(s *Session) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("session: marshal: %w", err)
	}
	return string(data), nil
}

func decode(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("session: unmarshal: %w", err)
	}
	if s.UserID == "" || s.SessionID == "" {
		return nil, fmt.Errorf("session: payload missing identifiers")
	}
	return &s, nil
}

func validate(s *Session) error {
	if s == nil || s.UserID == "" || s.SessionID == "" {
		return fmt.Errorf("session: missing session_id or user_id")
	}
	return nil
}
