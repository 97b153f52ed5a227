package pipe

import (
	"context"
	"sync"

	"firestige.xyz/vanilla/internal/hub"
)

// Event is a one-shot flag with a FIFO of waiters: Wait returns
// immediately once fired, otherwise parks until Set.
type Event struct {
	mu      sync.Mutex
	h       *hub.Hub
	fired   bool
	waiters []*hub.Task
}

// NewEvent creates an unfired Event.
func NewEvent(h *hub.Hub) *Event {
	return &Event{h: h}
}

// Wait returns immediately if the event has fired, otherwise parks the
// caller until Set.
func (e *Event) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.fired {
		e.mu.Unlock()
		return nil
	}
	self := hub.TaskFrom(ctx)
	e.waiters = append(e.waiters, self)
	e.mu.Unlock()

	_, err := e.h.Pause(ctx)
	return err
}

// Set flips fired true and switches into every waiter in insertion order.
// Each switch re-enqueues the switcher (Set's own caller) at the tail of
// ready before transferring control, so the whole waiter batch drains
// before Set's caller runs again, preserving batch semantics.
func (e *Event) Set(ctx context.Context) {
	e.mu.Lock()
	e.fired = true
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, w := range waiters {
		e.h.SwitchTo(ctx, w, nil)
	}
}

// Clear atomically replaces the waiter queue with an empty one, so a
// subsequent Set does not immediately refire against an already-waiting
// batch from before the last Clear.
func (e *Event) Clear() {
	e.mu.Lock()
	e.fired = false
	e.waiters = nil
	e.mu.Unlock()
}

// IsFired reports the current state without blocking.
func (e *Event) IsFired() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired
}
