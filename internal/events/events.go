// Package events models edge-triggered lifecycle signals (application foreground,
// connectivity restored) as subscribable sources.
package events

import (
	"sync"
)

// Handler is invoked once per emitted event
type Handler func()

// Subscription is returned by Subscribe. Cancel stops further deliveries and is
// safe to call more than once.
type Subscription interface {
	Cancel()
}

// Source is anything that emits edge-triggered events
type Source interface {
	Subscribe(h Handler) Subscription
}

// Emitter is an in-process Source. Handlers run synchronously on the emitting
// goroutine in subscription order.
type Emitter struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]Handler
	order    []uint64
}

// NewEmitter creates an Emitter with no subscribers
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[uint64]Handler)}
}

// Subscribe implements Source
func (e *Emitter) Subscribe(h Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.handlers[id] = h
	e.order = append(e.order, id)

	return &subscription{cancel: func() { e.remove(id) }}
}

// Emit delivers one event to every current subscriber
func (e *Emitter) Emit() {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.order))
	for _, id := range e.order {
		handlers = append(handlers, e.handlers[id])
	}
	e.mu.RUnlock()

	for _, h := range handlers {
		h()
	}
}

// Subscribers returns the number of active subscriptions
func (e *Emitter) Subscribers() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.order)
}

func (e *Emitter) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handlers[id]; !ok {
		return
	}
	delete(e.handlers, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Cancel() {
	s.once.Do(s.cancel)
}
