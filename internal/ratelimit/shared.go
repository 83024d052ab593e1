package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/logger"
	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore"
)

// KeyPrefix namespaces rate-limit counters in the shared store.
const KeyPrefix = "ratelimit:"

// Shared keeps one counter per client in the shared store and relies on
// the store's native INCR for atomicity across processes.
type Shared struct {
	client sharedstore.Client
	window time.Duration
	log    logger.Logger
	now    func() time.Time
}

// NewShared creates a shared limiter; a non-positive window uses Window.
func NewShared(client sharedstore.Client, window time.Duration, log logger.Logger) *Shared {
	if window <= 0 {
		window = Window
	}
	return &Shared{
		client: client,
		window: window,
		log:    logger.OrNop(log).With("component", "ratelimit"),
		now:    time.Now,
	}
}

func key(clientID string) string {
	return KeyPrefix + clientID
}

// Increment performs one INCR; the call that creates the counter attaches
// the window expiry. If that EXPIRE fails the counter lives on without TTL
// until the next Reset, and FindByClientID still reports a bounded window.
func (s *Shared) Increment(ctx context.Context, clientID string) (int64, error) {
	k := key(clientID)

	count, err := s.client.Incr(ctx, k)
	if err != nil {
		s.log.Error("rate limit increment failed", "op", "increment", "clientId", clientID, "error", err)
		return 0, fmt.Errorf("ratelimit: increment %s: %w", clientID, err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, k, s.window); err != nil {
			s.log.Warn("rate limit expiry not attached", "op", "increment", "clientId", clientID, "error", err)
		}
	}

	s.log.Debug("rate limit updated", "clientId", clientID, "count", count)
	return count, nil
}

func (s *Shared) Reset(ctx context.Context, clientID string) error {
	if err := s.client.Del(ctx, key(clientID)); err != nil {
		s.log.Error("rate limit reset failed", "op", "reset", "clientId", clientID, "error", err)
		return fmt.Errorf("ratelimit: reset %s: %w", clientID, err)
	}
	return nil
}

func (s *Shared) FindByClientID(ctx context.Context, clientID string) (State, bool) {
	k := key(clientID)

	raw, err := s.client.Get(ctx, k)
	if errors.Is(err, sharedstore.ErrNotFound) {
		return State{}, false
	}
	if err != nil {
		s.log.Error("rate limit lookup failed", "op", "find", "clientId", clientID, "error", err)
		return State{}, false
	}

	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.log.Warn("rate limit counter unreadable", "op", "find", "clientId", clientID, "error", err)
		return State{}, false
	}

	now := s.now()
	expiresAt := now.Add(s.window)
	if ttl, err := s.client.TTL(ctx, k); err == nil && ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	return State{ClientID: clientID, Count: count, ExpiresAt: expiresAt}, true
}
