package runner

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/hooks"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// outcome is how a guarded call ended.
type outcome struct {
	err error
	// exited is set when fn left through runtime.Goexit (Skip, Fatal).
	exited bool
	// abandoned is set when the call timed out or was cancelled while fn
	// was still running.
	abandoned bool
}

// call runs fn on its own goroutine and waits for it, for the timeout
// or for ctx, whichever comes first. A timed out fn keeps running with
// a cancelled context; its result is discarded.
func call(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) outcome {
	cancel := func() {}
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		returned := false
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: task.Errorf(task.KindPanic, "panic: %v\n%s", p, debug.Stack())}
				return
			}
			if !returned {
				done <- outcome{exited: true}
			}
		}()
		err := fn(ctx)
		returned = true
		done <- outcome{err: err}
	}()

	timedOut := func() bool {
		return timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded)
	}
	select {
	case o := <-done:
		// fn noticed the deadline before we did
		if o.err != nil && timedOut() {
			o.err = task.Errorf(task.KindTimeout, "timed out in %v", timeout)
		}
		return o
	case <-ctx.Done():
		if timedOut() {
			return outcome{err: task.Errorf(task.KindTimeout, "timed out in %v", timeout), abandoned: true}
		}
		return outcome{err: ctx.Err(), abandoned: true}
	}
}

// bounded wraps a hook so it runs under the hook timeout. A hook that
// exits through runtime.Goexit reports hooks.ErrAborted.
func (r *Runner) bounded(fn hooks.Func) hooks.Func {
	return func(ctx context.Context) error {
		o := call(ctx, r.config.HookTimeout, fn)
		if o.exited {
			return hooks.ErrAborted
		}
		return o.err
	}
}

// splitErrors flattens errors.Join trees.
func splitErrors(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, splitErrors(e)...)
		}
		return out
	}
	return []error{err}
}

// hookErrors converts a hook run error into task errors named after the
// hook.
func hookErrors(name hooks.Name, err error) []*task.Error {
	var out []*task.Error
	for _, e := range splitErrors(err) {
		te := task.Wrap(task.KindHook, e)
		if te.Name == "" {
			te.Name = string(name)
		}
		out = append(out, te)
	}
	return out
}

// hookStates tracks result.Hooks for a task whose hooks may run on
// another goroutine.
type hookStates struct {
	mu     sync.Mutex
	states map[string]task.State
}

func (h *hookStates) set(name hooks.Name, state task.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.states == nil {
		h.states = make(map[string]task.State)
	}
	h.states[string(name)] = state
}

func (h *hookStates) snapshot() map[string]task.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.states) == 0 {
		return nil
	}
	out := make(map[string]task.State, len(h.states))
	for k, v := range h.states {
		out[k] = v
	}
	return out
}
