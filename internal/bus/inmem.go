package bus

import (
	"context"
	"sync"
)

// InMem is a Messenger for a single process. Publish calls the handlers of
// the subject synchronously, in subscription order.
type InMem struct {
	mu     sync.RWMutex
	closed bool
	nextID uint64
	subs   map[string]map[uint64]Handler
	order  map[string][]uint64
}

func NewInMem() *InMem {
	return &InMem{
		subs:  make(map[string]map[uint64]Handler),
		order: make(map[string][]uint64),
	}
}

func (p *InMem) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrConnectionClosed
	}
	handlers := make([]Handler, 0, len(p.order[subject]))
	for _, id := range p.order[subject] {
		handlers = append(handlers, p.subs[subject][id])
	}
	p.mu.RUnlock()

	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		h(ctx, data)
	}
	return nil
}

func (p *InMem) Subscribe(ctx context.Context, subject string, h Handler) (Subscription, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	p.nextID++
	id := p.nextID
	if p.subs[subject] == nil {
		p.subs[subject] = make(map[uint64]Handler)
	}
	p.subs[subject][id] = h
	p.order[subject] = append(p.order[subject], id)
	p.mu.Unlock()

	sub := &inmemSubscription{subject: subject, id: id, inmem: p}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

// Subscribers reports how many handlers listen on subject.
func (p *InMem) Subscribers(subject string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order[subject])
}

func (p *InMem) Close() error {
	p.mu.Lock()
	p.closed = true
	p.subs = make(map[string]map[uint64]Handler)
	p.order = make(map[string][]uint64)
	p.mu.Unlock()
	return nil
}

type inmemSubscription struct {
	subject string
	id      uint64
	inmem   *InMem
}

func (s *inmemSubscription) Unsubscribe() error {
	p := s.inmem
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.subs[s.subject][s.id]; !ok {
		return nil
	}
	delete(p.subs[s.subject], s.id)
	ids := p.order[s.subject]
	for i, id := range ids {
		if id == s.id {
			p.order[s.subject] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if len(p.order[s.subject]) == 0 {
		delete(p.order, s.subject)
		delete(p.subs, s.subject)
	}
	return nil
}

var _ Messenger = (*InMem)(nil)
