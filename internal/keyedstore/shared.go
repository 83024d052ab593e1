package keyedstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tyrowin/nexus-chat-server/internal/sharedstore"
)

const (
	// KeyPrefix namespaces every record written by Shared.
	KeyPrefix = "chatapp:socket:"
	// IndexKey is the set of every namespaced key currently written. The
	// shared store cannot enumerate a namespace cheaply, so Size reads this.
	IndexKey = "chatapp:socket:keys"
)

// Shared is a Store backed by the shared store.
//
// Writes store the value then add the key to the index; deletes remove the
// value then the index entry. A crash between the two steps leaves a stale
// index entry, which the next Delete of that key clears.
type Shared struct {
	client sharedstore.Client
}

// NewShared creates a Shared store on client.
func NewShared(client sharedstore.Client) *Shared {
	return &Shared{client: client}
}

func namespaced(key string) string {
	return KeyPrefix + key
}

func (s *Shared) Get(ctx context.Context, key string, dst any) (bool, error) {
	data, err := s.client.Get(ctx, namespaced(key))
	if errors.Is(err, sharedstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("keyedstore: get %s: %w", key, err)
	}
	return decode([]byte(data), dst), nil
}

func (s *Shared) Set(ctx context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	nk := namespaced(key)
	if err := s.client.Set(ctx, nk, string(data), 0); err != nil {
		return fmt.Errorf("keyedstore: set %s: %w", key, err)
	}
	if err := s.client.SAdd(ctx, IndexKey, nk); err != nil {
		return fmt.Errorf("keyedstore: index %s: %w", key, err)
	}
	return nil
}

func (s *Shared) Delete(ctx context.Context, key string) error {
	nk := namespaced(key)
	if err := s.client.Del(ctx, nk); err != nil {
		return fmt.Errorf("keyedstore: delete %s: %w", key, err)
	}
	if err := s.client.SRem(ctx, IndexKey, nk); err != nil {
		return fmt.Errorf("keyedstore: unindex %s: %w", key, err)
	}
	return nil
}

func (s *Shared) Size(ctx context.Context) (int, error) {
	n, err := s.client.SCard(ctx, IndexKey)
	if err != nil {
		return 0, fmt.Errorf("keyedstore: size: %w", err)
	}
	return int(n), nil
}
