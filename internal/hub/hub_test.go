package hub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A hub with nothing scheduled goes idle and Run returns immediately.
func TestRunDeadlockDetection(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.Run() }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return on an idle hub")
	}
}

// Sleep suspends for at least the requested duration.
func TestSleepDuration(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	var elapsed time.Duration
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		start := time.Now()
		if err := h.Sleep(ctx, 15*time.Millisecond); err != nil {
			return err
		}
		elapsed = time.Since(start)
		return nil
	})

	require.NoError(t, h.Run())
	assert.GreaterOrEqual(t, elapsed, 15*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

// Tasks spawned in order T1, T2, T3 run in that order absent
// explicit SwitchTo.
func TestFIFOReadyOrder(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	var order []int
	record := func(n int) Func {
		return func(ctx context.Context, _ ...any) error {
			order = append(order, n)
			return nil
		}
	}
	h.Spawn(context.Background(), record(1))
	h.Spawn(context.Background(), record(2))
	h.Spawn(context.Background(), record(3))

	require.NoError(t, h.Run())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSwitchToHandsControlDirectly(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	var got any
	target := h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		v, err := h.Pause(ctx)
		if err != nil {
			return err
		}
		got = v
		return nil
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		_, _ = h.SwitchTo(ctx, target, "hello")
		return nil
	})

	require.NoError(t, h.Run())
	assert.Equal(t, "hello", got)
}

func TestThrowToDeliversError(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	var gotErr error
	target := h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		_, err := h.Pause(ctx)
		gotErr = err
		return nil
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		_, _ = h.ThrowTo(ctx, target, ErrTimeout)
		return nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, gotErr, ErrTimeout)
}

// Timeout idempotence: PauseTimeout returns ErrTimeout if
// nothing switches in before the deadline.
func TestPauseTimeoutFires(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	var gotErr error
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		_, err := h.PauseTimeout(ctx, 10*time.Millisecond)
		gotErr = err
		return nil
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, gotErr, ErrTimeout)
}

// A value delivered before the deadline wins over the timer.
func TestPauseTimeoutWonByEarlySwitch(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	var got any
	var gotErr error
	target := h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		v, err := h.PauseTimeout(ctx, 200*time.Millisecond)
		got, gotErr = v, err
		return nil
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		_, _ = h.SwitchTo(ctx, target, 42)
		return nil
	})

	require.NoError(t, h.Run())
	require.NoError(t, gotErr)
	assert.Equal(t, 42, got)
}

func TestRegisterAndUnregister(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var gotMask Interest
	var gotErr error
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		mask, err := h.Register(ctx, int(r.Fd()), Readable)
		gotMask, gotErr = mask, err
		return nil
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		if err := h.Sleep(ctx, 5*time.Millisecond); err != nil {
			return err
		}
		_, werr := w.Write([]byte("x"))
		return werr
	})

	require.NoError(t, h.Run())
	require.NoError(t, gotErr)
	assert.NotZero(t, gotMask & Readable)
}

func TestUnregisterWakesWaiterWithErrClosed(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var gotErr error
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		_, err := h.Register(ctx, int(r.Fd()), Readable)
		gotErr = err
		return nil
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		if err := h.Sleep(ctx, 5*time.Millisecond); err != nil {
			return err
		}
		return h.Unregister(int(r.Fd()))
	})

	require.NoError(t, h.Run())
	assert.ErrorIs(t, gotErr, ErrClosed)
}

// A live fd turning ready well before a sleeping task's deadline must
// not make that task resume early: the loop only pops a timer once its
// due time has passed, whatever poll reported on that pass.
func TestTimerDoesNotFireEarlyOnConcurrentReadiness(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	var elapsed time.Duration
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		start := time.Now()
		if err := h.Sleep(ctx, 80*time.Millisecond); err != nil {
			return err
		}
		elapsed = time.Since(start)
		return nil
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		_, err := h.Register(ctx, int(r.Fd()), Readable)
		return err
	})

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error {
		if err := h.Sleep(ctx, 5*time.Millisecond); err != nil {
			return err
		}
		_, werr := w.Write([]byte("x"))
		return werr
	})

	require.NoError(t, h.Run())
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
}

func TestStatsReflectLoad(t *testing.T) {
	h, err := New()
	require.NoError(t, err)

	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error { return nil })
	h.Spawn(context.Background(), func(ctx context.Context, _ ...any) error { return nil })

	require.NoError(t, h.Run())
	stats := h.Stats()
	assert.EqualValues(t, 2, stats.TasksSpawned)
	assert.EqualValues(t, 2, stats.TasksFinished)
	assert.Equal(t, 0, stats.ReadyLen)
}
