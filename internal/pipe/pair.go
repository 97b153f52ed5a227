package pipe

import (
	"context"
	"errors"

	"firestige.xyz/vanilla/internal/hub"
)

// Pair is the user-facing (Sender, Recver) tuple a fresh pipe produces. It
// holds strong references to both ends so the pair survives for as long as
// the caller holds it.
type Pair struct {
	Sender *Sender
	Recver *Recver
}

// NewPair builds a fresh pipe and returns it as a Pair.
func NewPair(h *hub.Hub) Pair {
	s, r := New(h)
	return Pair{Sender: s, Recver: r}
}

// Pipe splices a transform between r and a freshly created pair: target is
// spawned as its own task reading from in (fed by r) and writing to out;
// the returned Recver is out's paired Recver, the new head of the chain.
// This is rendered as an explicit pump task rather than pointer
// retargeting — Go's tracing collector has no notion of "this pipe would
// otherwise be collected mid-chain" to defend against in the first place.
func (r *Recver) Pipe(ctx context.Context, target func(ctx context.Context, in *Recver, out *Sender)) *Recver {
	s2, r2 := New(r.h)
	r.h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		target(ctx, r, s2)
		return nil
	})
	return r2
}

// Map returns a Recver yielding f(item) for each item r yields. An error
// from f satisfying errors.Is(err, hub.ErrFilter) drops the item silently;
// any other error is forwarded downstream as a hub.Reraise item.
func (r *Recver) Map(ctx context.Context, f func(any) (any, error)) *Recver {
	return r.Pipe(ctx, func(ctx context.Context, in *Recver, out *Sender) {
		defer out.Close()
		_ = in.Each(ctx, func(v any) error {
			result, err := f(v)
			if err != nil {
				if errors.Is(err, hub.ErrFilter) {
					return nil
				}
				return out.SendErr(ctx, hub.NewReraise(err))
			}
			return out.Send(ctx, result)
		})
	})
}

// Consume spawns a sink task that calls fn for every item r yields until
// Halt, or until fn itself returns an error, then closes r.
func (r *Recver) Consume(ctx context.Context, fn func(any) error) {
	r.h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		defer r.Close()
		return r.Each(ctx, fn)
	})
}

// Connect pumps every item r yields into s, so whatever feeds r eventually
// reaches s's Recver, and closes s once r halts. It returns s itself, not
// a new Pair and not the tail Recver of the chain; Queue.Connect returns
// a Recver and Router.Connect returns nothing.
func (s *Sender) Connect(ctx context.Context, r *Recver) *Sender {
	s.h.Spawn(ctx, func(ctx context.Context, _ ...any) error {
		defer s.Close()
		return r.Each(ctx, func(v any) error { return s.Send(ctx, v) })
	})
	return s
}
