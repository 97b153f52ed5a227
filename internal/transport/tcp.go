// Package transport is a push/request/reply framed protocol built
// entirely on the hub's register/unregister readiness boundary and the
// pipe package. It is not part of the scheduler's core engineering — it
// exists to exercise and exemplify that boundary with a real consumer.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/tevino/abool"
	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"

	"firestige.xyz/vanilla/internal/hub"
	"firestige.xyz/vanilla/internal/metrics"
	"firestige.xyz/vanilla/internal/pipe"
)

// Packet type bits, packed into the high bits of the 4-byte length-and-type
// header: PACKET_PUSH = 0, PACKET_REQUEST = 1<<30, PACKET_REPLY = 2<<30.
const (
	packetPush    uint32 = 0
	packetRequest uint32 = 1 << 30
	packetReply   uint32 = 2 << 30
	packetTypeMask       = packetRequest | packetReply
	packetSizeMask       = ^packetTypeMask
)

// Conn is one accepted or dialed TCP connection speaking the push/
// request/reply protocol. Push sends a message with no reply expected;
// Call sends a message and returns a Recver yielding the single reply;
// Reply answers a route previously delivered on Serve.
type Conn struct {
	h  *hub.Hub
	nc net.Conn
	fd int

	closed          *abool.AtomicBool
	mu              sync.Mutex
	callRoute       uint32
	callOutstanding map[uint32]*pipe.Sender

	// Serve yields a requestItem (Route, Data) for every inbound request
	// or push frame; a push carries route 0.
	Serve     *pipe.Recver
	serveSend *pipe.Sender
}

func rawFD(c net.Conn) (int, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1, errors.New("transport: connection does not expose a raw fd")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	var ctrlErr error
	err = rc.Control(func(f uintptr) {
		newFd, dupErr := unix.Dup(int(f))
		fd = newFd
		ctrlErr = dupErr
	})
	if err != nil {
		return -1, err
	}
	return fd, ctrlErr
}

// NewConn wraps an already-connected net.Conn, arming its fd as
// non-blocking and registering it with h for readiness.
func NewConn(h *hub.Hub, nc net.Conn) (*Conn, error) {
	fd, err := rawFD(nc)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("transport: set nonblock: %w", err)
	}
	serveSend, serveRecv := pipe.New(h)
	c := &Conn{
		h:               h,
		nc:              nc,
		fd:              fd,
		closed:          abool.New(),
		callOutstanding: make(map[uint32]*pipe.Sender),
		Serve:           serveRecv,
		serveSend:       serveSend,
	}
	metrics.TransportConnsActive.Inc()
	return c, nil
}

// Close releases the connection's fd and unregisters it from the hub. It
// is safe to call more than once; only the first call does any work.
func (c *Conn) Close() error {
	if !c.closed.SetToIf(false, true) {
		return nil
	}
	metrics.TransportConnsActive.Dec()
	_ = c.h.Unregister(c.fd)
	c.serveSend.Close()
	unix.Close(c.fd)
	return c.nc.Close()
}

func (c *Conn) recvN(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	got := 0
	for got < n {
		if c.closed.IsSet() {
			return nil, hub.ErrClosed
		}
		nr, err := unix.Read(c.fd, buf[got:])
		if err != nil {
			if err == unix.EAGAIN {
				if _, err := c.h.Register(ctx, c.fd, hub.Readable|hub.Hangup|hub.ErrorEvent); err != nil {
					return nil, err
				}
				continue
			}
			return nil, err
		}
		if nr == 0 {
			return nil, io.EOF
		}
		got += nr
	}
	return buf, nil
}

// sendAll writes msg in full, re-arming on EAGAIN. The registration
// boundary only offers readable/hangup/error interest, not writable, so
// a write-side EAGAIN here re-arms on Readable as a coarse wake-up
// rather than a true write-readiness signal; fine for the small,
// infrequent control frames this protocol sends, not a general-purpose
// write buffer.
func (c *Conn) sendAll(ctx context.Context, msg []byte) error {
	sent := 0
	for sent < len(msg) {
		n, err := unix.Write(c.fd, msg[sent:])
		if err != nil {
			if err == unix.EAGAIN {
				if _, err := c.h.Register(ctx, c.fd, hub.Readable); err != nil {
					return err
				}
				continue
			}
			return err
		}
		sent += n
	}
	return nil
}

// RecvLoop reads frames until the connection closes or ctx's task is
// torn down, dispatching requests to Serve and replies to their
// outstanding Call. It is meant to be run as its own hub task.
func (c *Conn) RecvLoop(ctx context.Context) error {
	for {
		header, err := c.recvN(ctx, 4)
		if err != nil {
			return err
		}
		typSize := binary.LittleEndian.Uint32(header)

		var route uint32
		if typSize&packetTypeMask != 0 {
			routeBytes, err := c.recvN(ctx, 4)
			if err != nil {
				return err
			}
			route = binary.LittleEndian.Uint32(routeBytes)
		}

		data, err := c.recvN(ctx, int(typSize&packetSizeMask))
		if err != nil {
			return err
		}

		switch {
		case typSize&packetRequest != 0:
			if err := c.serveSend.Send(ctx, requestItem{route: route, data: data}); err != nil {
				return err
			}
		case typSize&packetReply != 0:
			c.mu.Lock()
			sender, ok := c.callOutstanding[route]
			delete(c.callOutstanding, route)
			c.mu.Unlock()
			if !ok {
				continue
			}
			_ = sender.Send(ctx, data)
			sender.Close()
		default:
			if err := c.serveSend.Send(ctx, requestItem{route: 0, data: data}); err != nil {
				return err
			}
		}
	}
}

// requestItem is what Serve yields for an inbound push or request frame.
type requestItem struct {
	route uint32
	data  []byte
}

func (r requestItem) Route() uint32 { return r.route }
func (r requestItem) Data() []byte  { return r.data }

func (c *Conn) send(ctx context.Context, route uint32, typ uint32, data []byte) error {
	var msg []byte
	if typ&packetTypeMask != 0 {
		msg = make([]byte, 8+len(data))
		binary.LittleEndian.PutUint32(msg[0:4], typ|uint32(len(data)))
		binary.LittleEndian.PutUint32(msg[4:8], route)
		copy(msg[8:], data)
	} else {
		msg = make([]byte, 4+len(data))
		binary.LittleEndian.PutUint32(msg[0:4], typ|uint32(len(data)))
		copy(msg[4:], data)
	}
	return c.sendAll(ctx, msg)
}

// Push sends data with no reply expected.
func (c *Conn) Push(ctx context.Context, data []byte) error {
	return c.send(ctx, 0, packetPush, data)
}

// Call sends data as a request and returns a Recver yielding the single
// reply once it arrives.
func (c *Conn) Call(ctx context.Context, data []byte) (*pipe.Recver, error) {
	s, r := pipe.New(c.h)
	c.mu.Lock()
	c.callRoute++
	route := c.callRoute
	c.callOutstanding[route] = s
	c.mu.Unlock()

	if err := c.send(ctx, route, packetRequest, data); err != nil {
		c.mu.Lock()
		delete(c.callOutstanding, route)
		c.mu.Unlock()
		return nil, err
	}
	return r, nil
}

// Reply answers a route previously delivered on Serve.
func (c *Conn) Reply(ctx context.Context, route uint32, data []byte) error {
	return c.send(ctx, route, packetReply, data)
}

// Listener accepts connections on a bounded TCP listener, limited with
// golang.org/x/net/netutil to cap concurrent connections.
type Listener struct {
	h  *hub.Hub
	ln net.Listener
}

// Listen binds addr and bounds concurrent connections to maxConns.
func Listen(h *hub.Hub, addr string, maxConns int) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return &Listener{h: h, ln: ln}, nil
}

// Accept blocks the calling goroutine until a connection arrives and
// returns it wrapped as a Conn. Because it blocks rather than parking a
// task, it is called from an ordinary goroutine, not a hub task (see
// cmd's acceptLoop).
func (l *Listener) Accept() (*Conn, error) {
	nc, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(l.h, nc)
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}
