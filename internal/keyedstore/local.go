package keyedstore

import (
	"context"
	"sync"
)

// Local is a process-local Store. It has no TTL and no cross-process
// visibility; state is lost on restart.
type Local struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewLocal creates an empty local store.
func NewLocal() *Local {
	return &Local{data: make(map[string][]byte)}
}

func (l *Local) Get(_ context.Context, key string, dst any) (bool, error) {
	l.mu.RLock()
	data, ok := l.data[key]
	l.mu.RUnlock()

	if !ok {
		return false, nil
	}
	return decode(data, dst), nil
}

func (l *Local) Set(_ context.Context, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.data[key] = data
	l.mu.Unlock()
	return nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.data, key)
	l.mu.Unlock()
	return nil
}

func (l *Local) Size(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data), nil
}
