package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/vanilla/internal/hub"
)

func dialedPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptErr := make(chan error, 1)
	go func() {
		var err error
		server, err = ln.Accept()
		acceptErr <- err
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, <-acceptErr)
	return server, client
}

// Push writes a frame with no reply expected; Serve yields it on the
// receiving side as a requestItem with route 0.
func TestConnPushRoundTrip(t *testing.T) {
	serverNC, clientNC := dialedPair(t)

	h, err := hub.New()
	require.NoError(t, err)

	serverConn, err := NewConn(h, serverNC)
	require.NoError(t, err)
	clientConn, err := NewConn(h, clientNC)
	require.NoError(t, err)
	defer serverConn.Close()
	defer clientConn.Close()

	ctx := context.Background()
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		_ = serverConn.RecvLoop(ctx)
		return nil
	})

	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		return clientConn.Push(ctx, []byte("hello"))
	})

	var got requestItem
	var recvErr error
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		v, err := serverConn.Serve.Recv(ctx)
		recvErr = err
		if err == nil {
			got = v.(requestItem)
		}
		return h.Stop()
	})

	require.NoError(t, h.Run())
	require.NoError(t, recvErr)
	assert.Equal(t, []byte("hello"), got.Data())
	assert.Equal(t, uint32(0), got.Route())
}

// Call sends a request and parks on the returned Recver until Reply
// answers the same route.
func TestConnCallReply(t *testing.T) {
	serverNC, clientNC := dialedPair(t)

	h, err := hub.New()
	require.NoError(t, err)

	serverConn, err := NewConn(h, serverNC)
	require.NoError(t, err)
	clientConn, err := NewConn(h, clientNC)
	require.NoError(t, err)
	defer serverConn.Close()
	defer clientConn.Close()

	ctx := context.Background()
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		_ = serverConn.RecvLoop(ctx)
		return nil
	})
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		_ = clientConn.RecvLoop(ctx)
		return nil
	})

	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		req, err := serverConn.Serve.Recv(ctx)
		if err != nil {
			return err
		}
		item := req.(requestItem)
		return serverConn.Reply(ctx, item.Route(), []byte("pong"))
	})

	var got any
	var recvErr error
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		r, err := clientConn.Call(ctx, []byte("ping"))
		if err != nil {
			return err
		}
		got, recvErr = r.Recv(ctx)
		return h.Stop()
	})

	require.NoError(t, h.Run())
	require.NoError(t, recvErr)
	assert.Equal(t, []byte("pong"), got)
}

func TestConnCloseIsIdempotent(t *testing.T) {
	serverNC, clientNC := dialedPair(t)

	h, err := hub.New()
	require.NoError(t, err)

	c, err := NewConn(h, serverNC)
	require.NoError(t, err)
	defer clientNC.Close()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
