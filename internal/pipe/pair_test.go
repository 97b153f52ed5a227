package pipe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/vanilla/internal/hub"
)

// Attaching recver.Map(fn) transforms items in place.
func TestRecverMap(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	s, r := New(h)
	doubled := r.Map(context.Background(), func(v any) (any, error) {
		return v.(int) * 2, nil
	})

	var got any
	var recvErr error
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		return s.Send(ctx, 3)
	})
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		got, recvErr = doubled.Recv(ctx)
		return nil
	})

	require.NoError(t, h.Run())
	require.NoError(t, recvErr)
	assert.Equal(t, 6, got)
}

// After r.pipe(fn).pipe(sender2), a send on the original
// sender reaches sender2's Recver having been transformed by fn. Exercised
// here via Connect, which wires the Map'd Recver's output into a second
// fresh pipe's Sender.
func TestConnectLinearization(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	s1, r1 := New(h)
	transformed := r1.Map(context.Background(), func(v any) (any, error) {
		return v.(string) + "!", nil
	})
	s2, r2 := New(h)
	s2.Connect(context.Background(), transformed)

	var got any
	var recvErr error
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		return s1.Send(ctx, "hi")
	})
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		got, recvErr = r2.Recv(ctx)
		return nil
	})

	require.NoError(t, h.Run())
	require.NoError(t, recvErr)
	assert.Equal(t, "hi!", got)
}

func TestConsume(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	s, r := New(h)
	var got []any
	r.Consume(context.Background(), func(v any) error {
		got = append(got, v)
		return nil
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		defer s.Close()
		return s.Send(ctx, "only")
	})

	require.NoError(t, h.Run())
	assert.Equal(t, []any{"only"}, got)
}
