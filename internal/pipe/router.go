package pipe

import (
	"context"
	"sync"

	"firestige.xyz/vanilla/internal/hub"
)

// Router is the fan-in complement of Dealer: many Senders feed a single
// Recver. The Sender side keeps a FIFO deque of parked tasks instead of a
// single slot.
type Router struct {
	mu sync.Mutex
	h  *hub.Hub

	closed bool

	recverParked *hub.Task
	waiting      []routerEntry
}

type routerEntry struct {
	task *hub.Task
	item Item
}

// NewRouter creates an empty Router.
func NewRouter(h *hub.Hub) *Router {
	return &Router{h: h}
}

// Close wakes the parked Recver and every parked Sender with ErrClosed.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	rp := r.recverParked
	waiting := r.waiting
	r.recverParked = nil
	r.waiting = nil
	r.mu.Unlock()

	if rp != nil {
		hub.Interrupt(rp, hub.ErrClosed)
	}
	for _, w := range waiting {
		hub.Interrupt(w.task, hub.ErrClosed)
	}
}

// Send delivers v to the Recver, parking the caller in FIFO order among
// other Senders until the Recver is ready for it.
func (r *Router) Send(ctx context.Context, v any) error {
	return r.send(ctx, Item{Value: v})
}

// SendErr is Send for an item that should surface as an error on recv.
func (r *Router) SendErr(ctx context.Context, err error) error {
	return r.send(ctx, Item{Err: err})
}

func (r *Router) send(ctx context.Context, item Item) error {
	self := hub.TaskFrom(ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return hub.ErrClosed
	}
	if r.recverParked != nil {
		target := r.recverParked
		r.recverParked = nil
		r.mu.Unlock()
		_, err := r.h.SwitchTo(ctx, target, item)
		return err
	}
	r.waiting = append(r.waiting, routerEntry{task: self, item: item})
	r.mu.Unlock()

	_, err := r.h.Pause(ctx)
	if err != nil {
		r.mu.Lock()
		for i, e := range r.waiting {
			if e.task == self {
				r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
	return err
}

// Recv returns the next item dealt by whichever Sender has been waiting
// longest.
func (r *Router) Recv(ctx context.Context) (any, error) {
	self := hub.TaskFrom(ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, hub.ErrClosed
	}
	if len(r.waiting) > 0 {
		entry := r.waiting[0]
		r.waiting = r.waiting[1:]
		r.mu.Unlock()
		if _, err := r.h.SwitchTo(ctx, entry.task, nil); err != nil {
			return nil, err
		}
		if entry.item.Err != nil {
			return nil, entry.item.Err
		}
		return entry.item.Value, nil
	}
	r.recverParked = self
	r.mu.Unlock()

	v, err := r.h.Pause(ctx)
	if err != nil {
		r.mu.Lock()
		if r.recverParked == self {
			r.recverParked = nil
		}
		r.mu.Unlock()
		return nil, err
	}
	item, _ := v.(Item)
	if item.Err != nil {
		return nil, item.Err
	}
	return item.Value, nil
}

// Connect attaches a pump task that forwards every item from src into
// this Router.
func (r *Router) Connect(ctx context.Context, src *Recver) {
	r.h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		return src.Each(ctx, func(v any) error { return r.Send(ctx, v) })
	})
}
