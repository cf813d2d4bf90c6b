package broadcast

import (
	"context"
	"sync"
)

// Handler receives every published signal, including the publisher's own.
type Handler func(Signal)

// Bus is a cross-actor signal channel.
type Bus interface {
	Publish(ctx context.Context, s Signal) error
	Subscribe(h Handler) (unsubscribe func(), err error)
	Close() error
}

// Local delivers signals synchronously to in-process subscribers.
type Local struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
}

func NewLocal() *Local {
	return &Local{handlers: map[int]Handler{}}
}

func (l *Local) Publish(_ context.Context, s Signal) error {
	if err := s.Validate(); err != nil {
		return err
	}
	l.mu.RLock()
	hs := make([]Handler, 0, len(l.handlers))
	for i := 0; i < l.next; i++ {
		if h, ok := l.handlers[i]; ok {
			hs = append(hs, h)
		}
	}
	l.mu.RUnlock()
	for _, h := range hs {
		h(s)
	}
	return nil
}

func (l *Local) Subscribe(h Handler) (func(), error) {
	l.mu.Lock()
	id := l.next
	l.next++
	l.handlers[id] = h
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.handlers, id)
		l.mu.Unlock()
	}, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	l.handlers = map[int]Handler{}
	l.mu.Unlock()
	return nil
}
