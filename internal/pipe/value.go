package pipe

import (
	"context"
	"errors"
	"sync"

	"firestige.xyz/vanilla/internal/hub"
)

// ErrAlreadySet is returned by a second Value.Send.
var ErrAlreadySet = errors.New("pipe: value already set")

// Value is a write-once latch observable by many readers: Send records
// the payload once and wakes every waiter; Recv returns the payload
// immediately once it is set.
type Value struct {
	mu      sync.Mutex
	h       *hub.Hub
	has     bool
	val     any
	waiters []*hub.Task
}

// NewValue creates an unset Value.
func NewValue(h *hub.Hub) *Value {
	return &Value{h: h}
}

// Send records val and wakes every task parked in Recv. A second Send
// returns ErrAlreadySet without touching the stored value.
func (v *Value) Send(ctx context.Context, val any) error {
	v.mu.Lock()
	if v.has {
		v.mu.Unlock()
		return ErrAlreadySet
	}
	v.has = true
	v.val = val
	waiters := v.waiters
	v.waiters = nil
	v.mu.Unlock()

	for _, w := range waiters {
		v.h.SwitchTo(ctx, w, val)
	}
	return nil
}

// Recv returns the latched value immediately if Send has already run,
// otherwise parks until it does.
func (v *Value) Recv(ctx context.Context) (any, error) {
	v.mu.Lock()
	if v.has {
		val := v.val
		v.mu.Unlock()
		return val, nil
	}
	self := hub.TaskFrom(ctx)
	v.waiters = append(v.waiters, self)
	v.mu.Unlock()

	return v.h.Pause(ctx)
}

// IsSet reports whether Send has run, without blocking.
func (v *Value) IsSet() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.has
}
