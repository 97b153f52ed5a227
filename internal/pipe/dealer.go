package pipe

import (
	"context"
	"sync"

	"firestige.xyz/vanilla/internal/hub"
)

// Dealer is a single-Sender, many-Recver variant of Pipe: the Recver side
// keeps a FIFO deque of parked tasks instead of one slot. Sends are
// delivered to whichever Recver has been waiting longest.
//
// Dealer does not carry finalizer-based abandonment the way the base Pipe
// does — with many independent Recver callers there is no single "the
// other end" handle to attach a finalizer to. Close is explicit instead;
// see DESIGN.md.
type Dealer struct {
	mu sync.Mutex
	h  *hub.Hub

	closed bool

	senderParked *hub.Task
	pendingItem  Item

	waiting []*hub.Task
}

// NewDealer creates an empty Dealer.
func NewDealer(h *hub.Hub) *Dealer {
	return &Dealer{h: h}
}

// Close marks the dealer closed, waking every parked recver and the
// parked sender, if any, with ErrClosed.
func (d *Dealer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	sp := d.senderParked
	waiters := d.waiting
	d.senderParked = nil
	d.waiting = nil
	d.mu.Unlock()

	if sp != nil {
		hub.Interrupt(sp, hub.ErrClosed)
	}
	for _, w := range waiters {
		hub.Interrupt(w, hub.ErrClosed)
	}
}

// Send delivers v to whichever Recver has been parked longest, or parks
// the caller until one arrives.
func (d *Dealer) Send(ctx context.Context, v any) error {
	return d.send(ctx, Item{Value: v})
}

// SendErr is Send for an item that should surface as an error on recv.
func (d *Dealer) SendErr(ctx context.Context, err error) error {
	return d.send(ctx, Item{Err: err})
}

func (d *Dealer) send(ctx context.Context, item Item) error {
	self := hub.TaskFrom(ctx)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return hub.ErrClosed
	}
	if len(d.waiting) > 0 {
		target := d.waiting[0]
		d.waiting = d.waiting[1:]
		d.mu.Unlock()
		_, err := d.h.SwitchTo(ctx, target, item)
		return err
	}
	d.senderParked = self
	d.pendingItem = item
	d.mu.Unlock()

	_, err := d.h.Pause(ctx)
	if err != nil {
		d.mu.Lock()
		if d.senderParked == self {
			d.senderParked = nil
		}
		d.mu.Unlock()
	}
	return err
}

// Recv parks the caller at the tail of the waiting deque and returns the
// next item dealt to it, in select order (head of queue first).
func (d *Dealer) Recv(ctx context.Context) (any, error) {
	self := hub.TaskFrom(ctx)
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, hub.ErrClosed
	}
	if d.senderParked != nil {
		target := d.senderParked
		d.senderParked = nil
		item := d.pendingItem
		d.pendingItem = Item{}
		d.mu.Unlock()
		if _, err := d.h.SwitchTo(ctx, target, nil); err != nil {
			return nil, err
		}
		if item.Err != nil {
			return nil, item.Err
		}
		return item.Value, nil
	}
	d.waiting = append(d.waiting, self)
	d.mu.Unlock()

	v, err := d.h.Pause(ctx)
	if err != nil {
		d.mu.Lock()
		for i, t := range d.waiting {
			if t == self {
				d.waiting = append(d.waiting[:i], d.waiting[i+1:]...)
				break
			}
		}
		d.mu.Unlock()
		return nil, err
	}
	item, _ := v.(Item)
	if item.Err != nil {
		return nil, item.Err
	}
	return item.Value, nil
}
