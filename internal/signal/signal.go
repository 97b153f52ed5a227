// Package signal bridges OS signals into the hub's cooperative model
// through a self-pipe: os/signal's delivery channel is drained on a
// plain background goroutine (not a hub task — os/signal exposes no fd
// the poller could register directly) which wakes a pipe fd that a hub
// task parks on with Register, the same readiness boundary every other
// fd source in this runtime uses.
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"firestige.xyz/vanilla/internal/hub"
	"firestige.xyz/vanilla/internal/pipe"
)

// Source fans incoming OS signals out to subscribed Recvers as the
// signal's integer value.
type Source struct {
	h *hub.Hub

	mu      sync.Mutex
	subs    map[os.Signal][]*pipe.Sender
	senders map[*pipe.Recver]*pipe.Sender
	sigCh   chan os.Signal
	started bool

	pending  []os.Signal
	wakeRead int
	wakeSend int
}

// NewSource creates a Source bound to h. It does not install any OS signal
// handler, or open the self-pipe, until the first Subscribe call.
func NewSource(h *hub.Hub) *Source {
	return &Source{
		h:       h,
		subs:    make(map[os.Signal][]*pipe.Sender),
		senders: make(map[*pipe.Recver]*pipe.Sender),
		sigCh:   make(chan os.Signal, 16),
	}
}

// Subscribe returns a Recver yielding the integer value of sig each time
// it is delivered to this process, for every sig in sigs.
func (src *Source) Subscribe(ctx context.Context, sigs ...os.Signal) *pipe.Recver {
	s, r := pipe.New(src.h)

	src.mu.Lock()
	for _, sig := range sigs {
		src.subs[sig] = append(src.subs[sig], s)
	}
	src.senders[r] = s
	needStart := !src.started
	src.started = true
	src.mu.Unlock()

	signal.Notify(src.sigCh, sigs...)
	if needStart {
		src.start(ctx)
	}
	return r
}

// start opens the self-pipe, launches the background relay goroutine and
// spawns the hub task that parks on the pipe's read end.
func (src *Source) start(ctx context.Context) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK); err != nil {
		panic("signal: open self-pipe: " + err.Error())
	}
	src.wakeRead, src.wakeSend = fds[0], fds[1]

	go src.relay()
	src.h.Pin()
	src.h.Spawn(ctx, src.pump)
}

// relay reads the process's signal channel on an ordinary goroutine and
// wakes the hub-side pump with one byte per delivery, queuing the signal
// itself for the pump to drain once it wakes.
func (src *Source) relay() {
	for sig := range src.sigCh {
		src.mu.Lock()
		src.pending = append(src.pending, sig)
		src.mu.Unlock()
		unix.Write(src.wakeSend, []byte{0})
	}
}

// Unsubscribe removes r from every signal it was subscribed to and closes
// its Sender side. Once no subscriber remains for a given signal, the
// process-level handler for it is reset.
func (src *Source) Unsubscribe(r *pipe.Recver) {
	src.mu.Lock()
	s, ok := src.senders[r]
	if !ok {
		src.mu.Unlock()
		return
	}
	delete(src.senders, r)
	var toReset []os.Signal
	for sig, list := range src.subs {
		filtered := list[:0]
		for _, sub := range list {
			if sub != s {
				filtered = append(filtered, sub)
			}
		}
		if len(filtered) == 0 {
			delete(src.subs, sig)
			toReset = append(toReset, sig)
		} else {
			src.subs[sig] = filtered
		}
	}
	src.mu.Unlock()

	if len(toReset) > 0 {
		signal.Reset(toReset...)
	}
	s.Close()
}

// pump is the single always-on hub task bridging the self-pipe into the
// hub: it parks on the read end with Register and, once woken, drains
// both the wake bytes and whatever signals piled up since the last wake.
func (src *Source) pump(ctx context.Context, _ ...any) error {
	buf := make([]byte, 64)
	for {
		if _, err := src.h.Register(ctx, src.wakeRead, hub.Readable); err != nil {
			return nil
		}
		for {
			if _, err := unix.Read(src.wakeRead, buf); err != nil {
				break
			}
		}
		src.mu.Lock()
		sigs := src.pending
		src.pending = nil
		src.mu.Unlock()
		for _, sig := range sigs {
			src.deliver(ctx, sig)
		}
	}
}

func (src *Source) deliver(ctx context.Context, sig os.Signal) {
	src.mu.Lock()
	subs := make([]*pipe.Sender, len(src.subs[sig]))
	copy(subs, src.subs[sig])
	src.mu.Unlock()

	n := 0
	if s, ok := sig.(syscall.Signal); ok {
		n = int(s)
	}
	for _, s := range subs {
		if !s.Ready() {
			continue
		}
		_ = s.Send(ctx, n)
	}
}
