// Package bus carries events between server processes. Each user has one
// private subject; every process holding a connection for that user
// subscribes to it, so publishing once reaches all of the user's
// connections wherever they live.
package bus

import (
	"context"
	"errors"
	"strings"
)

var ErrConnectionClosed = errors.New("bus: connection closed")

// Handler receives the payload of one published message.
type Handler func(ctx context.Context, data []byte)

type Subscription interface {
	Unsubscribe() error
}

// Messenger is implemented by InMem and NATS.
type Messenger interface {
	Publish(ctx context.Context, subject string, data []byte) error
	// Subscribe calls h for every message on subject until the returned
	// subscription is removed or ctx is done.
	Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error)
	Close() error
}

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "chat"

// UserSubject is the private channel subject of userID.
func UserSubject(prefix, userID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.TrimSuffix(prefix, ".") + ".user." + userID
}
