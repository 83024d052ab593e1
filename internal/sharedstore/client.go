// Package sharedstore is the capability set the coordination layer needs from
// an external key/value service: atomic increment, per-key TTL and set
// operations. One Client is built at startup and injected into every
// component that coordinates across processes.
package sharedstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("sharedstore: key not found")

// Client is implemented by the Redis and Valkey drivers.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	// Set writes value; a ttl of zero stores the key without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	// Incr atomically increments the integer at key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time to live. It is negative when the key is
	// missing or has no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)

// Options selects and configures a driver.
type Options struct {
	Driver      string
	Addr        string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// New builds the configured driver and verifies connectivity with a ping.
func New(ctx context.Context, opts Options) (Client, error) {
	var (
		client Client
		err    error
	)

	switch opts.Driver {
	case DriverRedis, "":
		client = NewRedis(opts)
	case DriverValkey:
		client, err = NewValkey(opts)
		if err != nil {
			return nil, fmt.Errorf("sharedstore: valkey client: %w", err)
		}
	default:
		return nil, fmt.Errorf("sharedstore: unknown driver %q", opts.Driver)
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("sharedstore: ping %s: %w", opts.Addr, err)
	}
	return client, nil
}
