// Package presence records which users are connected and which rooms they
// have joined, on top of a keyedstore.Store.
package presence

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Tyrowin/nexus-chat-server/internal/keyedstore"
	"github.com/Tyrowin/nexus-chat-server/internal/logger"
)

const (
	connectedPrefix = "connected_users:"
	roomsPrefix     = "user_rooms:"
)

// Connection is the live connection recorded for a user. A user has at
// most one recorded connection; the newest one wins.
type Connection struct {
	ConnectionID string    `json:"connectionId"`
	UserID       string    `json:"userId"`
	Node         string    `json:"node,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Tracker reads and writes presence records. Every error it returns comes
// from the store and is safe for callers to log and ignore.
type Tracker struct {
	store keyedstore.Store
	node  string
	log   logger.Logger
	now   func() time.Time
}

// New creates a tracker; node names this server process in the records.
func New(store keyedstore.Store, node string, log logger.Logger) *Tracker {
	return &Tracker{
		store: store,
		node:  node,
		log:   logger.OrNop(log).With("component", "presence"),
		now:   time.Now,
	}
}

// Connect records connID as userID's current connection.
func (t *Tracker) Connect(ctx context.Context, userID, connID string) error {
	c := Connection{
		ConnectionID: connID,
		UserID:       userID,
		Node:         t.node,
		ConnectedAt:  t.now().UTC(),
	}
	if err := t.store.Set(ctx, connectedPrefix+userID, c); err != nil {
		return fmt.Errorf("presence: connect %s: %w", userID, err)
	}
	return nil
}

// Disconnect clears the user's presence when connID is still the recorded
// connection. It reports whether anything was cleared, so an older
// connection closing late never erases a newer one.
func (t *Tracker) Disconnect(ctx context.Context, userID, connID string) (bool, error) {
	c, ok, err := t.Lookup(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok || c.ConnectionID != connID {
		return false, nil
	}

	if err := t.store.Delete(ctx, connectedPrefix+userID); err != nil {
		return false, fmt.Errorf("presence: disconnect %s: %w", userID, err)
	}
	if err := t.store.Delete(ctx, roomsPrefix+userID); err != nil {
		return true, fmt.Errorf("presence: clear rooms %s: %w", userID, err)
	}
	return true, nil
}

// Lookup returns the user's recorded connection.
func (t *Tracker) Lookup(ctx context.Context, userID string) (*Connection, bool, error) {
	var c Connection
	ok, err := t.store.Get(ctx, connectedPrefix+userID, &c)
	if err != nil {
		return nil, false, fmt.Errorf("presence: lookup %s: %w", userID, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &c, true, nil
}

// Rooms lists the rooms the user has joined, in join order.
func (t *Tracker) Rooms(ctx context.Context, userID string) ([]string, error) {
	var rooms []string
	if _, err := t.store.Get(ctx, roomsPrefix+userID, &rooms); err != nil {
		return nil, fmt.Errorf("presence: rooms %s: %w", userID, err)
	}
	return rooms, nil
}

// JoinRoom adds roomID to the user's rooms and returns the new list.
func (t *Tracker) JoinRoom(ctx context.Context, userID, roomID string) ([]string, error) {
	rooms, err := t.Rooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	if slices.Contains(rooms, roomID) {
		return rooms, nil
	}

	rooms = append(rooms, roomID)
	if err := t.store.Set(ctx, roomsPrefix+userID, rooms); err != nil {
		return nil, fmt.Errorf("presence: join %s: %w", roomID, err)
	}
	t.log.Debug("room joined", "userId", userID, "roomId", roomID)
	return rooms, nil
}

// LeaveRoom removes roomID from the user's rooms and returns what is left.
func (t *Tracker) LeaveRoom(ctx context.Context, userID, roomID string) ([]string, error) {
	rooms, err := t.Rooms(ctx, userID)
	if err != nil {
		return nil, err
	}
	i := slices.Index(rooms, roomID)
	if i < 0 {
		return rooms, nil
	}

	rooms = slices.Delete(rooms, i, i+1)
	if len(rooms) == 0 {
		err = t.store.Delete(ctx, roomsPrefix+userID)
	} else {
		err = t.store.Set(ctx, roomsPrefix+userID, rooms)
	}
	if err != nil {
		return nil, fmt.Errorf("presence: leave %s: %w", roomID, err)
	}
	t.log.Debug("room left", "userId", userID, "roomId", roomID)
	return rooms, nil
}

// Records reports how many presence records the store holds.
func (t *Tracker) Records(ctx context.Context) (int, error) {
	n, err := t.store.Size(ctx)
	if err != nil {
		return 0, fmt.Errorf("presence: size: %w", err)
	}
	return n, nil
}
