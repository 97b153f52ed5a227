package pipe

import (
	"context"
	"sync"

	"firestige.xyz/vanilla/internal/hub"
)

// Queue is a buffered pipe of fixed capacity, built from two unbuffered
// pipes (upstream, downstream) and a pair of pump tasks shuttling a
// bounded ring buffer between them. The filler and drainer are each a
// single hub task, so the ring buffer only ever has at most one of each
// parked at a time; full/empty backpressure is a direct park-and-SwitchTo
// handoff between those two tasks, the same rendezvous Dealer and Router
// use, rather than a sync.Cond — a dispatched hub task that blocks on
// anything but Pause/Sleep/PauseTimeout/Register freezes the loop for
// good.
type Queue struct {
	Sender *Sender
	Recver *Recver
	buf    *ringBuffer
}

// NewQueue builds a Queue of the given capacity, which must be at least 1.
func NewQueue(ctx context.Context, h *hub.Hub, capacity int) Queue {
	if capacity < 1 {
		panic("pipe: queue capacity must be >= 1")
	}

	upSender, upRecver := New(h)     // exposed Sender; fed by the filler task
	downSender, downRecver := New(h) // exposed Recver; fed by the drainer task

	buf := newRingBuffer(h, capacity)

	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		for {
			v, err := upRecver.Recv(ctx)
			if err != nil {
				buf.closeUpstream(ctx)
				return nil
			}
			buf.push(ctx, v)
		}
	})

	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		defer downSender.Close()
		for {
			v, ok := buf.pop(ctx)
			if !ok {
				return nil
			}
			if err := downSender.Send(ctx, v); err != nil {
				buf.closeDownstream(ctx)
				upRecver.Close()
				return nil
			}
		}
	})

	return Queue{Sender: upSender, Recver: downRecver, buf: buf}
}

// Connect pumps every item r yields into the queue's upstream Sender and
// returns the queue's buffered downstream Recver, so chaining still lands
// on a Recver a caller can keep reading from rather than the plain
// upstream Sender's own connect target.
func (q Queue) Connect(ctx context.Context, r *Recver) *Recver {
	q.Sender.Connect(ctx, r)
	return q.Recver
}

// Len returns the number of items currently buffered.
func (q Queue) Len() int { return q.buf.length() }

// ringBuffer is a single-producer, single-consumer bounded buffer: the
// filler task is its only writer, the drainer task its only reader, so
// each side ever has at most one task parked on it.
type ringBuffer struct {
	mu  sync.Mutex
	h   *hub.Hub
	cap int
	buf []any

	upstreamClosed   bool
	downstreamClosed bool

	fillerParked  *hub.Task // parked in push, waiting for the drainer to free a slot
	drainerParked *hub.Task // parked in pop, waiting for the filler to add an item
}

func newRingBuffer(h *hub.Hub, cap int) *ringBuffer {
	return &ringBuffer{h: h, cap: cap}
}

// push adds v once there is room, parking the filler task through the
// hub when the buffer is full. It drops v instead of parking once the
// downstream side has already been torn down.
func (rb *ringBuffer) push(ctx context.Context, v any) {
	rb.mu.Lock()
	if rb.downstreamClosed {
		rb.mu.Unlock()
		return
	}
	if len(rb.buf) >= rb.cap {
		rb.fillerParked = hub.TaskFrom(ctx)
		rb.mu.Unlock()
		if _, err := rb.h.Pause(ctx); err != nil {
			return
		}
		rb.mu.Lock()
		if rb.downstreamClosed {
			rb.mu.Unlock()
			return
		}
	}
	rb.buf = append(rb.buf, v)
	waiter := rb.drainerParked
	rb.drainerParked = nil
	rb.mu.Unlock()
	if waiter != nil {
		rb.h.SwitchTo(ctx, waiter, nil)
	}
}

// pop returns the next item, parking the drainer task through the hub
// when the buffer is empty. It returns (nil, false) once the buffer has
// drained and upstream has closed.
func (rb *ringBuffer) pop(ctx context.Context) (any, bool) {
	rb.mu.Lock()
	if len(rb.buf) == 0 {
		if rb.upstreamClosed {
			rb.mu.Unlock()
			return nil, false
		}
		rb.drainerParked = hub.TaskFrom(ctx)
		rb.mu.Unlock()
		if _, err := rb.h.Pause(ctx); err != nil {
			return nil, false
		}
		rb.mu.Lock()
		if len(rb.buf) == 0 {
			rb.mu.Unlock()
			return nil, false
		}
	}
	v := rb.buf[0]
	rb.buf = rb.buf[1:]
	waiter := rb.fillerParked
	rb.fillerParked = nil
	rb.mu.Unlock()
	if waiter != nil {
		rb.h.SwitchTo(ctx, waiter, nil)
	}
	return v, true
}

func (rb *ringBuffer) closeUpstream(ctx context.Context) {
	rb.mu.Lock()
	rb.upstreamClosed = true
	waiter := rb.drainerParked
	rb.drainerParked = nil
	rb.mu.Unlock()
	if waiter != nil {
		rb.h.SwitchTo(ctx, waiter, nil)
	}
}

func (rb *ringBuffer) closeDownstream(ctx context.Context) {
	rb.mu.Lock()
	rb.downstreamClosed = true
	waiter := rb.fillerParked
	rb.fillerParked = nil
	rb.mu.Unlock()
	if waiter != nil {
		rb.h.SwitchTo(ctx, waiter, nil)
	}
}

func (rb *ringBuffer) length() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf)
}
