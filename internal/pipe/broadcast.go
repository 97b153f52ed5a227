package pipe

import (
	"context"
	"sync"

	"firestige.xyz/vanilla/internal/hub"
)

// Broadcast is best-effort fan-out to every currently-ready subscriber, in
// subscription order. There is no buffering: a subscriber that is not
// parked in Recv when Publish runs simply misses that value.
type Broadcast struct {
	mu   sync.Mutex
	h    *hub.Hub
	subs []*Sender
}

// NewBroadcast creates an empty Broadcast.
func NewBroadcast(h *hub.Hub) *Broadcast {
	return &Broadcast{h: h}
}

// Subscribe adds a new subscriber and returns its Recver.
func (b *Broadcast) Subscribe() *Recver {
	s, r := New(b.h)
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return r
}

// Unsubscribe removes and closes a subscriber previously returned by
// Subscribe's paired Sender.
func (b *Broadcast) Unsubscribe(s *Sender) {
	b.mu.Lock()
	b.removeLocked(s)
	b.mu.Unlock()
	s.Close()
}

func (b *Broadcast) removeLocked(s *Sender) {
	for i, sub := range b.subs {
		if sub == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every subscriber that is currently ready to
// receive it, in subscription order. A halted subscriber is never ready,
// so it is skipped like an unparked one; a subscriber is dropped from the
// subscriber list only when its Send returns a Halt error.
func (b *Broadcast) Publish(ctx context.Context, v any) {
	b.mu.Lock()
	subs := make([]*Sender, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	var dead []*Sender
	for _, s := range subs {
		if !s.Ready() {
			continue
		}
		if err := s.Send(ctx, v); err != nil && hub.ErrIsHalt(err) {
			dead = append(dead, s)
		}
	}
	if len(dead) == 0 {
		return
	}
	b.mu.Lock()
	for _, d := range dead {
		b.removeLocked(d)
	}
	b.mu.Unlock()
}
