package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count     int64
	expiresAt time.Time
}

// Local keeps counters in process. It is only correct when a single server
// process handles every client.
type Local struct {
	mu       sync.Mutex
	window   time.Duration
	counters map[string]*counter
	now      func() time.Time
}

// NewLocal creates a local limiter; a non-positive window uses Window.
func NewLocal(window time.Duration) *Local {
	if window <= 0 {
		window = Window
	}
	return &Local{
		window:   window,
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func (l *Local) Increment(_ context.Context, clientID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[clientID]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(l.window)}
		l.counters[clientID] = c
	}
	c.count++

	l.sweepLocked(now)
	return c.count, nil
}

func (l *Local) Reset(_ context.Context, clientID string) error {
	l.mu.Lock()
	delete(l.counters, clientID)
	l.mu.Unlock()
	return nil
}

func (l *Local) FindByClientID(_ context.Context, clientID string) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[clientID]
	if !ok || !l.now().Before(c.expiresAt) {
		return State{}, false
	}
	return State{ClientID: clientID, Count: c.count, ExpiresAt: c.expiresAt}, true
}

// sweepLocked drops expired counters once the map grows, standing in for
// the store-level expiry Shared gets for free.
func (l *Local) sweepLocked(now time.Time) {
	if len(l.counters) < 1024 {
		return
	}
	for id, c := range l.counters {
		if !now.Before(c.expiresAt) {
			delete(l.counters, id)
		}
	}
}
