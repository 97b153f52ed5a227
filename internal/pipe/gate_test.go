package pipe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/vanilla/internal/hub"
)

func TestGateWaitBlocksUntilTrigger(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	g := NewGate(h)
	var order []string

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		if err := g.Wait(ctx); err != nil {
			return err
		}
		order = append(order, "waiter")
		return nil
	})
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		order = append(order, "trigger")
		return g.Trigger(ctx)
	})

	require.NoError(t, h.Run())
	assert.Equal(t, []string{"trigger", "waiter"}, order)
}

func TestGateWaitReturnsImmediatelyWhenAlreadyTriggered(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	g := NewGate(h)
	require.NoError(t, g.Trigger(context.Background()))

	var waited bool
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		if err := g.Wait(ctx); err != nil {
			return err
		}
		waited = true
		return nil
	})

	require.NoError(t, h.Run())
	assert.True(t, waited)
}

func TestGateClearResetsState(t *testing.T) {
	h, err := hub.New()
	require.NoError(t, err)

	g := NewGate(h)
	require.NoError(t, g.Trigger(context.Background()))
	g.Clear()

	var waited bool
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		if err := g.Wait(ctx); err != nil {
			return err
		}
		waited = true
		return nil
	})
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		return g.Trigger(ctx)
	})

	require.NoError(t, h.Run())
	assert.True(t, waited)
}
