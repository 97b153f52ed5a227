// Package hub implements the single-threaded cooperative scheduler at the
// core of this runtime: a ready queue, a timer wheel and an epoll-backed
// readiness multiplexer driven by one loop goroutine, with tasks suspending
// and resuming into each other the way greenlets switch()/throw() into one
// another. Go has no stackful coroutines, so "the task currently holding
// control" is encoded as a protocol over channels rather than an actual
// single OS thread: exactly one task's goroutine is ever doing
// non-blocking work at a time, every other task goroutine is parked on
// its own resume channel.
package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
	uatomic "go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Hub owns the ready queue, the timer wheel, the fd multiplexer and the
// bookkeeping needed to tell when the run loop has nothing left to do.
type Hub struct {
	mu        sync.Mutex
	ready     []*Task
	timers    *timerWheel
	poller    *poller
	waiters   map[int]*Task // fd -> task parked in Register
	stopped   bool
	stopCh    chan struct{}
	nextID    uint64
	pinned    int // external keep-alive count; see Pin/Unpin

	// yield is the baton: every generic suspension point (Pause, Sleep,
	// recv-park, send-park, a task finishing) sends on it exactly once to
	// hand control back to the loop. SwitchTo/ThrowTo never touch it —
	// they transfer control peer to peer and rely on the switching task
	// being redrained off the ready queue later.
	yield chan struct{}

	tasksSpawned  uatomic.Int64
	tasksFinished uatomic.Int64
	panics        panics.Catcher
}

// New creates a Hub with its epoll instance ready but not yet running;
// call Run to drive it.
func New() (*Hub, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Hub{
		timers:  newTimerWheel(),
		poller:  p,
		waiters: make(map[int]*Task),
		stopCh:  make(chan struct{}),
		yield:   make(chan struct{}),
	}, nil
}

func (h *Hub) nextTaskID() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) enqueueReady(t *Task) {
	h.mu.Lock()
	h.ready = append(h.ready, t)
	h.mu.Unlock()
}

func (h *Hub) popReady() (*Task, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.ready) == 0 {
		return nil, false
	}
	t := h.ready[0]
	h.ready = h.ready[1:]
	return t, true
}

// idle reports whether the loop has no further reason to run: nothing
// ready, no live timers, nothing registered for readiness, and nothing
// externally pinned.
func (h *Hub) idle() bool {
	h.mu.Lock()
	nReady := len(h.ready)
	nWaiters := len(h.waiters)
	pinned := h.pinned
	h.mu.Unlock()
	return nReady == 0 && h.timers.len() == 0 && nWaiters == 0 && pinned == 0
}

// Pin keeps the loop from declaring deadlock even while nothing is ready,
// scheduled or registered, for the caller's own reasons external to the
// scheduler's own bookkeeping. internal/signal calls Pin once, when its
// first Subscribe starts the signal pump, and never calls Unpin, so a hub
// with a subscribed signal Source keeps running until Stop.
func (h *Hub) Pin() {
	h.mu.Lock()
	h.pinned++
	h.mu.Unlock()
}

// Unpin reverses a previous Pin.
func (h *Hub) Unpin() {
	h.mu.Lock()
	h.pinned--
	h.mu.Unlock()
}

// Spawn creates a new task running fn(ctx, args...) and schedules it to
// start on the loop's next pass through the ready queue.
func (h *Hub) Spawn(ctx context.Context, fn Func, args ...any) *Task {
	t := &Task{
		id:     h.nextTaskID(),
		h:      h,
		resume: make(chan resumption),
		done:   make(chan struct{}),
	}
	h.tasksSpawned.Inc()

	go func() {
		defer close(t.done)
		defer func() {
			h.tasksFinished.Inc()
			h.yield <- struct{}{}
		}()
		if _, err := t.await(); err != nil {
			return // thrown before ever running its body
		}
		taskCtx := WithTask(ctx, t)
		h.panics.Try(func() { _ = fn(taskCtx, args...) })
	}()
	h.enqueueReady(t)
	return t
}

// SpawnLater schedules fn to start delay from now, as a fresh task.
func (h *Hub) SpawnLater(ctx context.Context, delay time.Duration, fn Func, args ...any) *Task {
	t := &Task{
		id:     h.nextTaskID(),
		h:      h,
		resume: make(chan resumption),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(t.done)
		defer func() {
			h.tasksFinished.Inc()
			h.yield <- struct{}{}
		}()
		if _, err := t.await(); err != nil {
			return
		}
		taskCtx := WithTask(ctx, t)
		h.panics.Try(func() { _ = fn(taskCtx, args...) })
	}()
	h.tasksSpawned.Inc()
	h.mu.Lock()
	h.timers.add(delay, func() { h.enqueueReady(t) })
	h.mu.Unlock()
	return t
}

// fireAndEnqueue sets the resumption a ready-queue dispatch will deliver to
// t, then enqueues t. Used by timer callbacks so every delivery into a
// task's resume channel still flows through Hub.dispatch.
func (h *Hub) fireAndEnqueue(t *Task, value any, err error) {
	t.setPending(value, err)
	h.enqueueReady(t)
}

// Pause suspends the calling task indefinitely: it is removed from every
// registry and will only run again when something explicitly calls
// SwitchTo or ThrowTo on it. Building-block primitive used by pipe parking.
// If the hub has stopped, either on entry or by the time the task resumes,
// Pause returns ErrClosed, even when a value was delivered.
func (h *Hub) Pause(ctx context.Context) (any, error) {
	t := TaskFrom(ctx)
	h.mu.Lock()
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		return nil, ErrClosed
	}
	h.yield <- struct{}{}
	v, err := t.await()
	h.mu.Lock()
	stopped = h.stopped
	h.mu.Unlock()
	if stopped {
		return nil, ErrClosed
	}
	return v, err
}

// Sleep suspends the calling task for d before resuming it with a nil
// value.
func (h *Hub) Sleep(ctx context.Context, d time.Duration) error {
	t := TaskFrom(ctx)
	h.mu.Lock()
	h.timers.add(d, func() { h.fireAndEnqueue(t, nil, nil) })
	h.mu.Unlock()
	h.yield <- struct{}{}
	_, err := t.await()
	return err
}

// PauseTimeout suspends the calling task until either it is switched into
// directly or d elapses, whichever comes first; on timeout it returns
// ErrTimeout, and when switched into first it tombstones the pending timer
// so it never fires.
func (h *Hub) PauseTimeout(ctx context.Context, d time.Duration) (any, error) {
	t := TaskFrom(ctx)
	h.mu.Lock()
	item := h.timers.add(d, func() { h.fireAndEnqueue(t, nil, ErrTimeout) })
	h.mu.Unlock()
	h.yield <- struct{}{}
	v, err := t.await()
	h.mu.Lock()
	h.timers.remove(item)
	h.mu.Unlock()
	return v, err
}

// SwitchTo hands control directly to target with value, the Go analogue of
// greenlet's target.switch(value). The calling task is re-enqueued at the
// tail of the ready queue before the handoff so the loop eventually resumes
// it again once target (or whatever target switches to) yields back.
//
// Callers must not also directly SwitchTo/ThrowTo the current task while it
// sits re-enqueued here: resume only ever tolerates a single delivery
// between parks, and a concurrent direct switch plus a ready-queue
// redispatch would both try to deliver into it.
func (h *Hub) SwitchTo(ctx context.Context, target *Task, value any) (any, error) {
	current := TaskFrom(ctx)
	h.enqueueReady(current)
	target.switchInto(value)
	return current.await()
}

// ThrowTo is SwitchTo's throw() counterpart: target resumes with err
// instead of a value.
func (h *Hub) ThrowTo(ctx context.Context, target *Task, err error) (any, error) {
	current := TaskFrom(ctx)
	h.enqueueReady(current)
	target.throwInto(err)
	return current.await()
}

// Register asks the loop to resume the calling task the next time fd
// reports any of interest, and parks the task until that happens (or
// Unregister/Stop wakes it early). It returns the interest mask the kernel
// actually reported.
func (h *Hub) Register(ctx context.Context, fd int, interest Interest) (Interest, error) {
	t := TaskFrom(ctx)
	if err := h.poller.add(fd, interest); err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.waiters[fd] = t
	h.mu.Unlock()
	h.yield <- struct{}{}
	v, err := t.await()
	if err != nil {
		return 0, err
	}
	mask, _ := v.(Interest)
	return mask, nil
}

// Unregister drops fd from the poller. If a task is parked waiting on it,
// that task is resumed with ErrClosed.
func (h *Hub) Unregister(fd int) error {
	h.mu.Lock()
	waiter, ok := h.waiters[fd]
	delete(h.waiters, fd)
	h.mu.Unlock()
	if ok {
		waiter.throwInto(ErrClosed)
	}
	return h.poller.remove(fd)
}

// Run drives the hub's main loop until it has nothing left scheduled,
// registered or ready: run a ready task to its next suspension point, or
// wait on the nearer of the timer wheel and epoll, or stop when both are
// exhausted.
func (h *Hub) Run() error {
	defer h.poller.close()
	for {
		select {
		case <-h.stopCh:
			return h.drainStop()
		default:
		}

		if t, ok := h.popReady(); ok {
			r := t.takePending()
			h.dispatch(t, r.value, r.err)
			continue
		}

		if h.idle() {
			return nil
		}

		timeout, hasTimer := h.timers.timeout()
		pollMs := -1
		if hasTimer {
			if timeout < 0 {
				timeout = 0
			}
			pollMs = int(timeout / time.Millisecond)
		}

		events, err := h.poller.wait(pollMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("hub: poll: %w", err)
		}
		h.mu.Lock()
		var woken []struct {
			t    *Task
			mask Interest
		}
		for _, ev := range events {
			if waiter, ok := h.waiters[ev.fd]; ok {
				delete(h.waiters, ev.fd)
				woken = append(woken, struct {
					t    *Task
					mask Interest
				}{waiter, ev.mask})
			}
		}
		h.mu.Unlock()

		for _, w := range woken {
			h.dispatch(w.t, w.mask, nil)
		}

		// A timer fires only once its due time has passed, whatever poll
		// reported on this pass: an fd that became ready before the deadline
		// must not make its sleeping neighbor resume early, and an fd that
		// stays ready must not keep a due timer from ever firing.
		if d, ok := h.timers.timeout(); ok && d <= 0 {
			if fired := h.timers.pop(); fired != nil {
				fired()
			}
		}
	}
}

// dispatch sends value or err into t's resume channel and blocks the loop
// until t (or whatever t transitively switches to) yields control back.
func (h *Hub) dispatch(t *Task, value any, err error) {
	if err != nil {
		t.throwInto(err)
	} else {
		t.switchInto(value)
	}
	<-h.yield
}

// Stop requests the loop to shut down: every task still parked in Register
// is thrown ErrClosed and its fd is removed from the poller, and Run
// returns once the loop observes the stop signal. Tasks parked in Pause,
// Sleep or PauseTimeout are not woken, and pending timers are left in
// place. Errors from removing the fds are joined with go.uber.org/multierr.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	waiters := h.waiters
	h.waiters = make(map[int]*Task)
	h.mu.Unlock()

	var errs error
	for fd, t := range waiters {
		t.throwInto(ErrClosed)
		if err := h.poller.remove(fd); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	close(h.stopCh)
	return errs
}

func (h *Hub) drainStop() error {
	return nil
}

// Repanic re-panics with any task panic the hub caught during its run,
// aggregated via github.com/sourcegraph/conc/panics the way a conc pool
// surfaces its workers' panics to the caller. Call after Run returns.
func (h *Hub) Repanic() {
	h.panics.Repanic()
}

// StopOnTerm starts a plain goroutine (not a hub task) that calls Stop once
// sig yields a value or is closed. It does not subscribe to any OS signal
// itself; the caller decides what feeds sig.
func (h *Hub) StopOnTerm(ctx context.Context, sig <-chan struct{}) {
	go func() {
		<-sig
		_ = h.Stop()
	}()
}

// Stats is a snapshot of scheduler load, exported for internal/metrics.
type Stats struct {
	ReadyLen      int
	TimersLive    int
	Registered    int
	TasksSpawned  int64
	TasksFinished int64
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	ready := len(h.ready)
	h.mu.Unlock()
	return Stats{
		ReadyLen:      ready,
		TimersLive:    h.timers.len(),
		Registered:    h.poller.registered(),
		TasksSpawned:  h.tasksSpawned.Load(),
		TasksFinished: h.tasksFinished.Load(),
	}
}
