package pipe

import (
	"context"
	"sync"

	"firestige.xyz/vanilla/internal/hub"
)

// Gate is a single-slot edge with sticky state: Trigger sets state true
// and delivers on the underlying pipe only if a receiver is already
// parked; Wait returns immediately once state is true.
type Gate struct {
	mu    sync.Mutex
	state bool

	s *Sender
	r *Recver
}

// NewGate creates a cleared Gate.
func NewGate(h *hub.Hub) *Gate {
	s, r := New(h)
	return &Gate{s: s, r: r}
}

// Trigger sets the sticky state and, if a Recver is already parked in
// Wait, wakes it immediately.
func (g *Gate) Trigger(ctx context.Context) error {
	g.mu.Lock()
	g.state = true
	g.mu.Unlock()

	if g.s.Ready() {
		return g.s.Send(ctx, struct{}{})
	}
	return nil
}

// Wait returns immediately if the gate is already triggered, otherwise
// parks until Trigger.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	fired := g.state
	g.mu.Unlock()
	if fired {
		return nil
	}
	_, err := g.r.Recv(ctx)
	return err
}

// Clear resets the sticky state.
func (g *Gate) Clear() {
	g.mu.Lock()
	g.state = false
	g.mu.Unlock()
}
