package hub

import (
	"context"
	"fmt"

	uatomic "go.uber.org/atomic"
)

// Func is the body of a spawned task. It receives a context carrying the
// task's own identity (retrievable with TaskFrom) so it can suspend itself
// via the package-level Pause/Sleep/SwitchTo/ThrowTo operations or the
// pipe package's Recv/Send, all of which require "the current task."
type Func func(ctx context.Context, args ...any) error

// resumption is what is delivered into a parked Task's resume channel: a
// plain value on a successful switch, or an error on a throw. It is the
// Go shape of "deliver a value, or raise an exception."
type resumption struct {
	value any
	err   error
}

// Task is a cooperatively-scheduled unit of execution. It wraps a single
// goroutine and the one channel used to deliver every resume/throw into
// its single suspension point, mirroring a greenlet's switch/throw pair
// without needing stack-switching: the goroutine blocks on resume exactly
// where a greenlet would block on .switch().
type Task struct {
	id      uint64
	h       *Hub
	resume  chan resumption
	done    chan struct{}
	running uatomic.Bool // diagnostics flag; the hub never sets it, so it stays false

	// pending holds a resumption queued for this task by a timer callback
	// ahead of the ready-queue dispatch that will actually deliver it,
	// so every delivery into resume still goes through Hub.dispatch.
	pending resumption
}

type taskCtxKey struct{}

// WithTask returns a context carrying t, the convention every hub/pipe
// blocking operation uses to find "the calling task."
func WithTask(parent context.Context, t *Task) context.Context {
	return context.WithValue(parent, taskCtxKey{}, t)
}

// TaskFrom extracts the Task a context was created with. It panics if ctx
// was not derived from a task's context: every hub operation besides
// spawn/construction must be called from within a task.
func TaskFrom(ctx context.Context) *Task {
	t, ok := ctx.Value(taskCtxKey{}).(*Task)
	if !ok || t == nil {
		panic("hub: operation called outside of a task context")
	}
	return t
}

// ID returns the task's monotonically increasing identity.
func (t *Task) ID() uint64 { return t.id }

// Hub returns the hub this task belongs to.
func (t *Task) Hub() *Hub { return t.h }

func (t *Task) String() string { return fmt.Sprintf("task#%d", t.id) }

// switchInto is the mechanical equivalent of a greenlet's target.switch(args):
// deliver a value into t's single suspension point. It must only be called
// while the caller currently holds control (see Hub.SwitchTo).
func (t *Task) switchInto(value any) {
	t.resume <- resumption{value: value}
}

// throwInto is target.throw(exc): deliver an error into t's suspension
// point instead of a value.
func (t *Task) throwInto(err error) {
	t.resume <- resumption{err: err}
}

// await blocks the current goroutine on its own resume channel: this is
// the point at which a Task is "parked." It returns either the delivered
// value or the delivered error, never both.
func (t *Task) await() (any, error) {
	r := <-t.resume
	return r.value, r.err
}

// takePending clears and returns a resumption a timer callback queued via
// setPending, for Hub.dispatch to deliver through the normal resume path.
func (t *Task) takePending() resumption {
	r := t.pending
	t.pending = resumption{}
	return r
}

func (t *Task) setPending(value any, err error) {
	t.pending = resumption{value: value, err: err}
}

// Interrupt delivers err directly into t's resume channel. It exists for
// callers that have no current task of their own to re-enqueue — pipe
// Close and abandonment notifications, both of which may run from a
// finalizer goroutine — where SwitchTo/ThrowTo's "re-enqueue the caller"
// step makes no sense. It assumes the single-parked-task invariant: t must
// actually be parked and not concurrently resumed by anything else.
func Interrupt(t *Task, err error) {
	t.throwInto(err)
}
