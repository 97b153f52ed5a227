package hub

import "errors"

// Halt is the supertype of the conditions that terminate a Recver's
// iteration cleanly: Closed and Abandoned. Callers test for it with
// errors.Is(err, Halt) since the concrete error is always ErrClosed or
// ErrAbandoned, never Halt itself.
var Halt = errors.New("halt")

// ErrClosed is returned to a parked task when the pipe/end it was waiting
// on is explicitly closed, and from Pause when the hub has stopped.
var ErrClosed = &haltError{msg: "closed"}

// ErrAbandoned is returned to a parked task when its peer End was dropped
// (detected via finalizer) rather than explicitly closed.
var ErrAbandoned = &haltError{msg: "abandoned"}

// ErrTimeout is returned by a timed Pause/Recv/Send/Wait that elapsed
// before it was satisfied.
var ErrTimeout = errors.New("timeout")

// ErrFilter is raised by a pipeline transform (Recver.Pipe/Map) to drop
// the current item silently; it never escapes to a caller of Recv.
var ErrFilter = errors.New("filter")

// haltError implements Halt via errors.Is without embedding the sentinel
// instance itself, so errors.Is(ErrClosed, Halt) is true while ErrClosed
// and ErrAbandoned remain distinguishable with errors.Is(err, ErrClosed).
type haltError struct{ msg string }

func (e *haltError) Error() string { return e.msg }

func (e *haltError) Is(target error) bool { return target == Halt }

// ErrIsHalt reports whether err is a Halt condition (ErrClosed or
// ErrAbandoned), the test a Recver's iteration uses to end cleanly.
func ErrIsHalt(err error) bool {
	return errors.Is(err, Halt)
}

// Reraise carries a preserved exception through a pipe so the receive
// side can re-raise the original error with its wrapped chain intact:
// capture at the send site, unwrap and re-surface at the recv site.
type Reraise struct {
	Original error
}

func (r *Reraise) Error() string { return r.Original.Error() }

func (r *Reraise) Unwrap() error { return r.Original }

// NewReraise wraps an exception observed inside a pipeline transform so it
// survives the trip through a pipe as an Item and is re-raised verbatim by
// the receiving end.
func NewReraise(err error) error {
	if err == nil {
		return nil
	}
	return &Reraise{Original: err}
}
