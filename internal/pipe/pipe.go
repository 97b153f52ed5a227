package pipe

import (
	"context"
	"runtime"
	"sync"
	"time"

	"firestige.xyz/vanilla/internal/hub"
	"firestige.xyz/vanilla/internal/metrics"
)

// Pipe is the unbuffered rendezvous middle shared by exactly one Sender
// and one Recver. Go's tracing garbage collector needs no weak references
// to detect a reference cycle — a Sender and Recver may each hold a
// pointer back into the same Pipe with no leak — so liveness here is
// tracked with plain booleans flipped by runtime.SetFinalizer callbacks
// instead.
type Pipe struct {
	mu sync.Mutex

	closed bool

	senderLive bool
	recverLive bool

	senderParked *hub.Task
	recverParked *hub.Task
	pendingItem  Item
}

// Sender is the send-only handle on one side of a Pipe.
type Sender struct {
	p *Pipe
	h *hub.Hub
}

// Recver is the recv-only handle on one side of a Pipe.
type Recver struct {
	p *Pipe
	h *hub.Hub
}

// New creates a fresh Pipe and returns its two ends.
func New(h *hub.Hub) (*Sender, *Recver) {
	p := &Pipe{senderLive: true, recverLive: true}
	s := &Sender{p: p, h: h}
	r := &Recver{p: p, h: h}

	runtime.SetFinalizer(s, func(s *Sender) { abandonSender(s.h, s.p) })
	runtime.SetFinalizer(r, func(r *Recver) { abandonRecver(r.h, r.p) })
	return s, r
}

// abandonSender and abandonRecver run on the finalizer goroutine, which is
// not a task, so the only thing they may do directly is enqueue a
// hub-spawned task — all the actual state mutation happens inside that
// spawned body, never here.
func abandonSender(h *hub.Hub, p *Pipe) {
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		p.mu.Lock()
		already := !p.senderLive
		p.senderLive = false
		waiter := p.recverParked
		p.recverParked = nil
		p.mu.Unlock()
		if !already {
			metrics.AbandonedTotal.Inc()
			if waiter != nil {
				hub.Interrupt(waiter, hub.ErrAbandoned)
			}
		}
		return nil
	})
}

func abandonRecver(h *hub.Hub, p *Pipe) {
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		p.mu.Lock()
		already := !p.recverLive
		p.recverLive = false
		waiter := p.senderParked
		p.senderParked = nil
		p.mu.Unlock()
		if !already {
			metrics.AbandonedTotal.Inc()
			if waiter != nil {
				hub.Interrupt(waiter, hub.ErrAbandoned)
			}
		}
		return nil
	})
}

// Close marks the pipe closed. If the peer has a task parked, it is thrown
// ErrClosed directly: Close may itself be called from outside any task
// (e.g. from a defer in ordinary Go code), so it cannot rely on
// hub.ThrowTo's "re-enqueue the current task" step the way an in-task
// operation would.
func (p *Pipe) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	sp, rp := p.senderParked, p.recverParked
	p.senderParked, p.recverParked = nil, nil
	p.mu.Unlock()

	if sp != nil {
		hub.Interrupt(sp, hub.ErrClosed)
	}
	if rp != nil {
		hub.Interrupt(rp, hub.ErrClosed)
	}
}

// Close closes the underlying pipe from the Sender side.
func (s *Sender) Close() { s.p.Close() }

// Close closes the underlying pipe from the Recver side.
func (r *Recver) Close() { r.p.Close() }

// Ready reports whether a send on s would complete immediately: the pipe
// is open, the Recver is still live, and a Recver task is parked.
func (s *Sender) Ready() bool {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return !s.p.closed && s.p.recverLive && s.p.recverParked != nil
}

// Halted reports whether s can never complete another send.
func (s *Sender) Halted() bool {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	return s.p.closed || !s.p.recverLive
}

// Ready reports whether a recv on r would complete immediately.
func (r *Recver) Ready() bool {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return !r.p.closed && r.p.senderLive && r.p.senderParked != nil
}

// Halted reports whether r can never complete another recv.
func (r *Recver) Halted() bool {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.p.closed || !r.p.senderLive
}

// Send delivers value to whatever Recver eventually calls Recv, blocking
// until a Recver is parked and ready to take it.
func (s *Sender) Send(ctx context.Context, v any) error {
	return s.send(ctx, Item{Value: v}, -1)
}

// SendTimeout is Send with an upper bound on how long to wait for a Recver.
func (s *Sender) SendTimeout(ctx context.Context, v any, timeout time.Duration) error {
	return s.send(ctx, Item{Value: v}, timeout)
}

// SendErr delivers err as the item; the Recver's Recv call returns it as
// an error rather than a value.
func (s *Sender) SendErr(ctx context.Context, err error) error {
	return s.send(ctx, Item{Err: err}, -1)
}

func (s *Sender) send(ctx context.Context, item Item, timeout time.Duration) error {
	p := s.p
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return hub.ErrClosed
	}
	if !p.recverLive && p.recverParked == nil {
		p.mu.Unlock()
		return hub.ErrAbandoned
	}
	if p.recverParked != nil {
		target := p.recverParked
		p.recverParked = nil
		p.mu.Unlock()
		_, err := s.h.SwitchTo(ctx, target, item)
		if err == nil {
			metrics.PipeSendsTotal.WithLabelValues("pipe").Inc()
		}
		return err
	}

	self := hub.TaskFrom(ctx)
	p.senderParked = self
	p.pendingItem = item
	p.mu.Unlock()

	var err error
	if timeout >= 0 {
		_, err = s.h.PauseTimeout(ctx, timeout)
	} else {
		_, err = s.h.Pause(ctx)
	}
	if err != nil {
		p.mu.Lock()
		if p.senderParked == self {
			p.senderParked = nil
		}
		p.mu.Unlock()
	} else {
		metrics.PipeSendsTotal.WithLabelValues("pipe").Inc()
	}
	return err
}

// Recv waits for the next item and returns its value, or the error it
// carried (including ErrClosed/ErrAbandoned/ErrTimeout).
func (r *Recver) Recv(ctx context.Context) (any, error) {
	return r.recv(ctx, -1)
}

// RecvTimeout is Recv with an upper bound on how long to wait for a Sender.
func (r *Recver) RecvTimeout(ctx context.Context, timeout time.Duration) (any, error) {
	return r.recv(ctx, timeout)
}

func (r *Recver) recv(ctx context.Context, timeout time.Duration) (any, error) {
	p := r.p
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, hub.ErrClosed
	}
	if !p.senderLive && p.senderParked == nil {
		p.mu.Unlock()
		return nil, hub.ErrAbandoned
	}
	if p.senderParked != nil {
		target := p.senderParked
		p.senderParked = nil
		item := p.pendingItem
		p.pendingItem = Item{}
		p.mu.Unlock()

		// Wake the parked Sender directly so it can return from its own
		// Send call; the item was already captured above so this recv
		// does not need whatever value eventually redispatches it.
		if _, err := r.h.SwitchTo(ctx, target, nil); err != nil {
			return nil, err
		}
		metrics.PipeRecvsTotal.WithLabelValues("pipe").Inc()
		if item.Err != nil {
			return nil, item.Err
		}
		return item.Value, nil
	}

	self := hub.TaskFrom(ctx)
	p.recverParked = self
	p.mu.Unlock()

	var v any
	var err error
	if timeout >= 0 {
		v, err = r.h.PauseTimeout(ctx, timeout)
	} else {
		v, err = r.h.Pause(ctx)
	}
	if err != nil {
		p.mu.Lock()
		if p.recverParked == self {
			p.recverParked = nil
		}
		p.mu.Unlock()
		return nil, err
	}
	metrics.PipeRecvsTotal.WithLabelValues("pipe").Inc()
	item, _ := v.(Item)
	if item.Err != nil {
		return nil, item.Err
	}
	return item.Value, nil
}

// Each calls fn for every item received until Recv returns a Halt error
// (ErrClosed or ErrAbandoned): repeatedly recv() until Halt, then end
// iteration. Any other error, or
// an error returned by fn itself, stops iteration and is returned.
func (r *Recver) Each(ctx context.Context, fn func(any) error) error {
	for {
		v, err := r.Recv(ctx)
		if err != nil {
			if hub.ErrIsHalt(err) {
				return nil
			}
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}
