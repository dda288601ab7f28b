package runner

import (
	"context"
	"errors"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/hooks"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

var (
	// ErrExpectedFail is recorded when a test marked fails passes.
	ErrExpectedFail = errors.New("expected test to fail")

	errExited = errors.New("test body exited without returning")
)

func (r *Runner) runTest(ctx context.Context, t *task.Test) {
	if t.Mode == task.ModeSkip || t.Mode == task.ModeTodo {
		t.Result = &task.Result{State: task.StateOf(t.Mode), StartTime: time.Now()}
		r.emit(ctx, t)
		return
	}
	if t.Result != nil && t.Result.State == task.StateFail {
		// failed before running, e.g. forbidden only
		r.recordFailure(t)
		r.emit(ctx, t)
		return
	}
	if note := r.cutShort(ctx); note != "" {
		t.Result = &task.Result{State: task.StateSkip, StartTime: time.Now(), Note: note}
		r.emit(ctx, t)
		return
	}

	if !r.acquire(ctx) {
		t.Result = &task.Result{State: task.StateSkip, StartTime: time.Now(), Note: "run cancelled"}
		r.emit(ctx, t)
		return
	}
	defer r.release()

	start := time.Now()
	t.Result = &task.Result{State: task.StateRun, StartTime: start}
	r.emit(ctx, t)

	log := r.log.With().Str("test", t.ID).Logger()
	log.Debug().Str("name", task.FullName(t)).Msg("running test")

	retries := max(t.Retry, 0)
	repeats := max(t.Repeats, 0)
	retryCount := 0

repeat:
	for repeatCount := 0; repeatCount <= repeats; repeatCount++ {
		for attempt := 0; ; attempt++ {
			res := r.attempt(ctx, t)
			res.RetryCount = retryCount
			res.RepeatCount = repeatCount
			t.Result = res

			if res.State == task.StateSkip {
				break repeat
			}
			if res.State == task.StatePass {
				break
			}
			if attempt >= retries || ctx.Err() != nil {
				break repeat
			}
			retryCount++
			log.Debug().Int("retry", retryCount).Msg("retrying failed test")
			r.rerun(ctx, t)
		}
		if repeatCount < repeats {
			r.rerun(ctx, t)
		}
	}

	if t.Fails {
		invert(t.Result)
	}
	t.Result.StartTime = start
	t.Result.Duration = time.Since(start)
	r.heap(t.Result)
	if t.Result.State == task.StateFail {
		r.recordFailure(t)
	}
	log.Debug().Str("state", string(t.Result.State)).Dur("duration", t.Result.Duration).Msg("test finished")
	r.emit(ctx, t)
}

// invert flips the final outcome of a test expected to fail. Skips are
// left alone.
func invert(res *task.Result) {
	switch res.State {
	case task.StatePass:
		res.State = task.StateFail
		res.Errors = []*task.Error{task.Wrap(task.KindExpectedFail, ErrExpectedFail)}
	case task.StateFail:
		res.State = task.StatePass
		res.Errors = nil
	}
}

// rerun publishes the finished attempt as still running before the next
// one starts, so reporters never see a terminal state that is about to
// be replaced.
func (r *Runner) rerun(ctx context.Context, t *task.Test) {
	pending := t.Result.Clone()
	pending.State = task.StateRun
	t.Result = pending
	r.emit(ctx, t)
}

func (r *Runner) cutShort(ctx context.Context) string {
	switch {
	case ctx.Err() != nil:
		return "run cancelled"
	case r.bailed.Load():
		return "bail threshold reached"
	}
	return ""
}

// attempt runs a test once: fixtures, beforeEach and the body under the
// test timeout, then async assertions, result handlers, afterEach and
// fixture teardown.
func (r *Runner) attempt(ctx context.Context, t *task.Test) *task.Result {
	res := &task.Result{State: task.StateRun, StartTime: time.Now()}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tc := task.NewTestContext(tctx, t)
	t.Context = tc

	scope := t.Fixtures.Scope()
	var states hookStates

	timeout := r.config.TestTimeout
	if t.Timeout > 0 {
		timeout = t.Timeout
	}

	o := call(tctx, timeout, func(ctx context.Context) error {
		if err := scope.Resolve(ctx, t.Uses); err != nil {
			return task.Wrap(task.KindFixture, err)
		}
		tc.SetValues(scope.Values())

		if err := r.eachHooks(ctx, hooks.BeforeEach, t, tc, &states); err != nil {
			return joinErrors(hookFailures(hooks.BeforeEach, err, tc))
		}
		return r.body(t)(tc)
	})
	if o.abandoned {
		cancel()
	}

	var errs []*task.Error
	skipped, note := tc.Skipped()
	if !skipped {
		errs = append(errs, tc.Errors()...)
		errs = append(errs, bodyErrors(o.err)...)
		if o.exited && !tc.Failed() {
			errs = append(errs, task.Wrap(task.KindAssertion, errExited))
		}
		if !o.abandoned {
			errs = append(errs, r.await(ctx, tc, timeout)...)
		}
	}

	switch {
	case skipped:
		res.State = task.StateSkip
		res.Note = note
	case len(errs) > 0:
		res.State = task.StateFail
		res.Errors = errs
	default:
		res.State = task.StatePass
	}

	cleanup := context.WithoutCancel(ctx)
	tc.Close()
	onFailed, onFinished := tc.Handlers()
	if res.State == task.StateFail {
		r.handlers(cleanup, onFailed, res)
	}
	r.handlers(cleanup, onFinished, res)

	recorded := len(tc.Errors())
	if err := r.eachHooks(cleanup, hooks.AfterEach, t, tc, &states); err != nil {
		for _, e := range hookFailures(hooks.AfterEach, err, tc) {
			res.Fail(task.KindHook, e)
		}
	}
	for _, e := range tc.Errors()[recorded:] {
		res.Fail(task.KindAssertion, e)
	}

	tdCtx, tdCancel := cleanup, func() {}
	if r.config.HookTimeout > 0 {
		tdCtx, tdCancel = context.WithTimeout(cleanup, r.config.HookTimeout)
	}
	for _, err := range scope.Teardown(tdCtx) {
		res.Fail(task.KindTeardown, err)
	}
	tdCancel()

	res.Hooks = states.snapshot()
	return res
}

func (r *Runner) body(t *task.Test) task.TestFunc {
	switch {
	case t.Fn != nil:
		return t.Fn
	case r.config.RunTask != nil:
		return r.config.RunTask
	}
	return func(tc *task.TestContext) error {
		return task.Errorf(task.KindMissingFn, "no test function registered for %q", t.Name)
	}
}

// bodyErrors converts the error returned by a body or beforeEach into
// task errors. Plain errors returned by the body count as assertion
// failures.
func bodyErrors(err error) []*task.Error {
	var out []*task.Error
	for _, e := range splitErrors(err) {
		out = append(out, task.Wrap(task.KindAssertion, e))
	}
	return out
}

// await collects the async assertions started with TestContext.Go.
func (r *Runner) await(ctx context.Context, tc *task.TestContext, timeout time.Duration) []*task.Error {
	actx, cancel := ctx, func() {}
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()
	return tc.Await(actx)
}

// handlers runs result handlers in order. A failing handler fails the
// attempt but does not stop the handlers after it.
func (r *Runner) handlers(ctx context.Context, fns []task.ResultHandler, res *task.Result) {
	for _, fn := range fns {
		o := call(ctx, r.config.HookTimeout, func(context.Context) error { return fn(res.Clone()) })
		if o.err != nil {
			res.Fail(task.KindHook, o.err)
		}
	}
}

// eachHooks runs beforeEach from the outermost suite inward, or
// afterEach from the innermost suite outward. Before hooks stop at the
// first failing level; after hooks always visit every level.
func (r *Runner) eachHooks(ctx context.Context, name hooks.Name, t *task.Test, tc *task.TestContext, states *hookStates) error {
	var levels []*task.Suite
	for s := t.Suite; s != nil; s = s.Suite {
		levels = append(levels, s)
	}
	if !name.IsAfter() {
		for i, j := 0, len(levels)-1; i < j; i, j = i+1, j-1 {
			levels[i], levels[j] = levels[j], levels[i]
		}
	}

	var errs []error
	ran := false
	for _, s := range levels {
		src := s.Hooks.BeforeEach
		if name.IsAfter() {
			src = s.Hooks.AfterEach
		}
		if len(src) == 0 {
			continue
		}
		if !ran {
			states.set(name, task.StateRun)
			ran = true
		}

		fns := make([]hooks.Func, len(src))
		for i, fn := range src {
			hook := hooks.Func(func(context.Context) error { return fn(tc) })
			if name.IsAfter() {
				// before hooks already run inside the test timeout
				hook = r.bounded(hook)
			}
			fns[i] = hook
		}
		if err := hooks.Run(ctx, r.config.Sequence.Hooks, name, fns); err != nil {
			errs = append(errs, err)
			if !name.IsAfter() {
				break
			}
		}
	}
	if !ran {
		return nil
	}

	err := errors.Join(errs...)
	if err != nil {
		states.set(name, task.StateFail)
		return err
	}
	states.set(name, task.StatePass)
	return nil
}

// hookFailures converts a hook run error into task errors. The aborted
// marker of a hook that stopped through Fatal or Skip is dropped, since
// the context already recorded why it stopped.
func hookFailures(name hooks.Name, err error, tc *task.TestContext) []*task.Error {
	skipped, _ := tc.Skipped()
	stopped := skipped || tc.Failed()
	var out []*task.Error
	for _, e := range hookErrors(name, err) {
		if stopped && errors.Is(e, hooks.ErrAborted) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func joinErrors(errs []*task.Error) error {
	if len(errs) == 0 {
		return nil
	}
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return errors.Join(out...)
}
