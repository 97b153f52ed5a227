package signal

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/vanilla/internal/hub"
)

// Subscribe to a signal, have it delivered, recv() returns the integer
// code. This drives Source.deliver directly from a hub task rather than
// raising a real OS signal with syscall.Kill: the real pump now parks on
// the self-pipe through Hub.Register, so Subscribe's spawn and
// registration run for real here, only the actual kernel-level signal
// delivery is substituted for something a test can trigger
// deterministically.
func TestSubscribeDeliversSignalCode(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	src := NewSource(h)
	ctx := context.Background()

	var got any
	var recvErr error
	r := src.Subscribe(ctx, syscall.SIGINT)

	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		got, recvErr = r.Recv(ctx)
		return h.Stop()
	})
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		src.deliver(ctx, syscall.SIGINT)
		return nil
	})

	require.NoError(t, h.Run())
	require.NoError(t, recvErr)
	assert.Equal(t, int(syscall.SIGINT), got)
}

// An actual kernel-delivered signal, not a directly-driven deliver call,
// reaches a subscriber through the real relay goroutine, self-pipe and
// Hub.Register-parked pump.
func TestSubscribeDeliversRealOSSignal(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	src := NewSource(h)
	ctx := context.Background()
	r := src.Subscribe(ctx, syscall.SIGUSR1)

	got := make(chan any, 1)
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		v, err := r.Recv(ctx)
		if err != nil {
			return err
		}
		got <- v
		return h.Stop()
	})

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGUSR1))

	select {
	case v := <-got:
		assert.Equal(t, int(syscall.SIGUSR1), v)
	case <-time.After(2 * time.Second):
		t.Fatal("signal not delivered through the self-pipe path")
	}
	require.NoError(t, <-done)
}

func TestDeliverFansOutToMultipleSubscribers(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	src := NewSource(h)
	ctx := context.Background()

	r1 := src.Subscribe(ctx, syscall.SIGTERM)
	r2 := src.Subscribe(ctx, syscall.SIGTERM)

	var got1, got2 any
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		got1, _ = r1.Recv(ctx)
		return nil
	})
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		got2, _ = r2.Recv(ctx)
		return nil
	})
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		src.deliver(ctx, syscall.SIGTERM)
		return h.Stop()
	})

	require.NoError(t, h.Run())
	assert.Equal(t, int(syscall.SIGTERM), got1)
	assert.Equal(t, int(syscall.SIGTERM), got2)
}

// deliver skips subscribers that are not currently parked in Recv, the
// same best-effort semantics Broadcast.Publish uses.
func TestDeliverSkipsUnparkedSubscribers(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	src := NewSource(h)
	ctx := context.Background()
	_ = src.Subscribe(ctx, syscall.SIGHUP) // never parks in Recv

	delivered := false
	h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		src.deliver(ctx, syscall.SIGHUP)
		delivered = true
		return h.Stop()
	})

	require.NoError(t, h.Run())
	assert.True(t, delivered, "deliver must not block when no subscriber is ready")
}

func TestSubscribeRegistersUnderEverySignal(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	src := NewSource(h)
	r := src.Subscribe(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.subs[syscall.SIGINT], 1)
	require.Len(t, src.subs[syscall.SIGTERM], 1)
	_, ok := src.senders[r]
	assert.True(t, ok)
}

func TestUnsubscribeRemovesFromEverySignal(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	src := NewSource(h)
	r := src.Subscribe(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	src.Unsubscribe(r)

	src.mu.Lock()
	defer src.mu.Unlock()
	_, stillSubscribed := src.senders[r]
	assert.False(t, stillSubscribed)
	assert.NotContains(t, src.subs, syscall.SIGINT)
	assert.NotContains(t, src.subs, syscall.SIGTERM)
}
