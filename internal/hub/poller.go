// Package hub's readiness multiplexer wraps Linux epoll(7) via
// golang.org/x/sys/unix. Level-triggered readiness is delivered by resuming
// the task parked in Hub.Register for that fd with the reported mask. There
// is no per-fd delivery pipe: an event for an fd with no task parked on it
// is not buffered or delivered.
package hub

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Interest is the public interest mask: readable, hangup, error.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Hangup
	ErrorEvent
)

func (i Interest) toEpoll() uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Hangup != 0 {
		ev |= unix.EPOLLHUP
	}
	if i&ErrorEvent != 0 {
		ev |= unix.EPOLLERR
	}
	return ev
}

func fromEpoll(ev uint32) Interest {
	var i Interest
	if ev&unix.EPOLLIN != 0 {
		i |= Readable
	}
	if ev&unix.EPOLLHUP != 0 {
		i |= Hangup
	}
	if ev&unix.EPOLLERR != 0 {
		i |= ErrorEvent
	}
	return i
}

// readyEvent is one (fd, event_mask) delivery.
type readyEvent struct {
	fd   int
	mask Interest
}

// poller is a thin, mutex-guarded wrapper over one epoll instance. The
// hub's main loop is the only goroutine that ever calls wait; register and
// unregister may be called from any task.
type poller struct {
	epfd int

	mu   sync.Mutex
	fds  map[int]struct{}
	buf  []unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("hub: epoll_create1: %w", err)
	}
	return &poller{
		epfd: epfd,
		fds:  make(map[int]struct{}),
		buf:  make([]unix.EpollEvent, 128),
	}, nil
}

// add registers fd for interest, or updates its interest mask if fd is
// already registered (callers like internal/transport re-arm the same fd
// repeatedly after each EAGAIN, which a plain EPOLL_CTL_ADD would reject
// with EEXIST on the second call).
func (p *poller) add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: interest.toEpoll(), Fd: int32(fd)}
	p.mu.Lock()
	defer p.mu.Unlock()
	op := unix.EPOLL_CTL_ADD
	if _, exists := p.fds[fd]; exists {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("hub: epoll_ctl fd=%d: %w", fd, err)
	}
	p.fds[fd] = struct{}{}
	return nil
}

func (p *poller) remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return nil
	}
	delete(p.fds, fd)
	// EPOLL_CTL_DEL with a nil event is valid on every kernel this runtime
	// supports; some very old kernels required a non-nil pointer, which
	// unix.EpollCtl already handles internally.
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("hub: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

func (p *poller) registered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fds)
}

// wait blocks for up to timeoutMs (use -1 to block indefinitely) and
// returns the readiness events the kernel reported. A return of
// (nil, unix.EINTR) means "retry."
func (p *poller) wait(timeoutMs int) ([]readyEvent, error) {
	n, err := unix.EpollWait(p.epfd, p.buf, timeoutMs)
	if err != nil {
		return nil, err
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, readyEvent{fd: int(p.buf[i].Fd), mask: fromEpoll(p.buf[i].Events)})
	}
	return out, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}
