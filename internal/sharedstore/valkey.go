package sharedstore

import (
	"context"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Valkey is the valkey-go driver. Client-side caching is disabled because
// every read in this layer must observe the shared state of the moment.
type Valkey struct {
	client valkey.Client
}

// NewValkey creates a Valkey driver. valkey-go dials eagerly, so this can fail.
func NewValkey(opts Options) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{opts.Addr},
		Password:     opts.Password,
		SelectDB:     opts.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, err
	}
	return &Valkey{client: client}, nil
}

func (v *Valkey) Get(ctx context.Context, key string) (string, error) {
	val, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", ErrNotFound
	}
	return val, err
}

func (v *Valkey) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl > 0 {
		cmd := v.client.B().Set().Key(key).Value(value).PxMilliseconds(ttl.Milliseconds()).Build()
		return v.client.Do(ctx, cmd).Error()
	}
	return v.client.Do(ctx, v.client.B().Set().Key(key).Value(value).Build()).Error()
}

func (v *Valkey) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return v.client.Do(ctx, v.client.B().Del().Key(keys...).Build()).Error()
}

func (v *Valkey) Incr(ctx context.Context, key string) (int64, error) {
	return v.client.Do(ctx, v.client.B().Incr().Key(key).Build()).AsInt64()
}

func (v *Valkey) Expire(ctx context.Context, key string, ttl time.Duration) error {
	cmd := v.client.B().Pexpire().Key(key).Milliseconds(ttl.Milliseconds()).Build()
	return v.client.Do(ctx, cmd).Error()
}

func (v *Valkey) TTL(ctx context.Context, key string) (time.Duration, error) {
	ms, err := v.client.Do(ctx, v.client.B().Pttl().Key(key).Build()).AsInt64()
	if err != nil {
		return 0, err
	}
	if ms < 0 {
		return time.Duration(ms), nil
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func (v *Valkey) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return v.client.Do(ctx, v.client.B().Sadd().Key(key).Member(members...).Build()).Error()
}

func (v *Valkey) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return v.client.Do(ctx, v.client.B().Srem().Key(key).Member(members...).Build()).Error()
}

func (v *Valkey) SMembers(ctx context.Context, key string) ([]string, error) {
	return v.client.Do(ctx, v.client.B().Smembers().Key(key).Build()).AsStrSlice()
}

func (v *Valkey) SCard(ctx context.Context, key string) (int64, error) {
	return v.client.Do(ctx, v.client.B().Scard().Key(key).Build()).AsInt64()
}

func (v *Valkey) Ping(ctx context.Context) error {
	return v.client.Do(ctx, v.client.B().Ping().Build()).Error()
}

func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}
