// Package ratelimit implements the fixed-window request counters that
// throttle each client across every server process.
//
// A window opens on the first increment and lasts Window; every further
// increment inside it reuses the same expiry. Reads fail open (a store error
// reads as "no window") while increments fail closed (the error reaches the
// caller, which must deny).
package ratelimit

import (
	"context"
	"time"
)

// Window is the default fixed window length.
const Window = time.Second

// State is the logical view of one client's current window.
type State struct {
	ClientID  string
	Count     int64
	ExpiresAt time.Time
}

// Limiter is implemented by Local and Shared.
type Limiter interface {
	// Increment atomically adds one to the client's counter and returns the
	// new count.
	Increment(ctx context.Context, clientID string) (int64, error)
	// Reset drops the client's counter.
	Reset(ctx context.Context, clientID string) error
	// FindByClientID reports the active window, or false when there is none.
	FindByClientID(ctx context.Context, clientID string) (State, bool)
}

// Allow increments the client's counter and reports whether it is still
// within max requests for the window. An increment error denies.
func Allow(ctx context.Context, l Limiter, clientID string, max int64) (bool, int64, error) {
	count, err := l.Increment(ctx, clientID)
	if err != nil {
		return false, 0, err
	}
	return count <= max, count, nil
}
