package runner

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/hooks"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

func (r *Runner) runSuite(ctx context.Context, s *task.Suite) {
	start := time.Now()
	prior := s.Result
	s.Result = &task.Result{State: task.StateRun, StartTime: start}
	if prior != nil {
		// collection errors and forbidden only
		s.Result.Errors = prior.Errors
	}
	r.emit(ctx, s)

	log := r.log.With().Str("suite", s.ID).Logger()

	if s.Mode == task.ModeSkip || s.Mode == task.ModeTodo {
		state := task.StateOf(s.Mode)
		r.settleAll(ctx, s, state, nil)
		s.Result.State = state
		s.Result.Duration = time.Since(start)
		r.emit(ctx, s)
		return
	}

	log.Debug().Str("name", s.Name).Msg("running suite")

	var states hookStates
	setupStart := time.Now()
	err := r.suiteHooks(ctx, hooks.BeforeAll, s, &states)
	if s.Suite == nil && s.File != nil {
		s.File.SetupDuration = time.Since(setupStart)
	}

	if err != nil {
		errs := hookErrors(hooks.BeforeAll, err)
		s.Result.Errors = append(s.Result.Errors, errs...)
		// Nothing under a suite whose setup failed can run.
		r.settleAll(ctx, s, task.StateFail, errs)
	} else {
		for _, group := range partition(s.Tasks) {
			r.runGroup(ctx, s, group)
		}
	}

	if err := r.suiteHooks(context.WithoutCancel(ctx), hooks.AfterAll, s, &states); err != nil {
		s.Result.Errors = append(s.Result.Errors, hookErrors(hooks.AfterAll, err)...)
		log.Warn().Err(err).Msg("afterAll failed")
	}

	s.Result.Hooks = states.snapshot()
	s.Result.Duration = time.Since(start)
	r.heap(s.Result)

	switch {
	case !task.HasTests(s):
		s.Result.State = task.StateFail
		if len(s.Result.Errors) == 0 {
			s.Result.Errors = append(s.Result.Errors, task.Errorf(task.KindCollection, "no test found in suite %s", s.Name))
		}
	case len(s.Result.Errors) > 0 || task.HasFailed(s):
		s.Result.State = task.StateFail
	default:
		s.Result.State = task.StatePass
	}
	r.emit(ctx, s)
}

// suiteHooks runs the beforeAll or afterAll hooks of s, each under the
// hook timeout, and records their state.
func (r *Runner) suiteHooks(ctx context.Context, name hooks.Name, s *task.Suite, states *hookStates) error {
	src := s.Hooks.BeforeAll
	if name == hooks.AfterAll {
		src = s.Hooks.AfterAll
	}
	if len(src) == 0 {
		return nil
	}

	fns := make([]hooks.Func, len(src))
	for i, fn := range src {
		fns[i] = r.bounded(func(ctx context.Context) error { return fn(ctx, s) })
	}
	states.set(name, task.StateRun)
	err := hooks.Run(ctx, r.config.Sequence.Hooks, name, fns)
	if err != nil {
		states.set(name, task.StateFail)
	} else {
		states.set(name, task.StatePass)
	}
	return err
}

// settleAll gives every descendant of s a terminal result without
// running it. Descendants with a skip or todo mode of their own keep it.
func (r *Runner) settleAll(ctx context.Context, s *task.Suite, state task.State, errs []*task.Error) {
	for _, t := range s.Tasks {
		b := t.Common()
		st := state
		if b.Mode == task.ModeSkip || b.Mode == task.ModeTodo {
			st = task.StateOf(b.Mode)
		}
		res := &task.Result{State: st, StartTime: time.Now()}
		if st == task.StateFail {
			res.Errors = append(res.Errors, errs...)
		}
		b.Result = res
		if sub, ok := t.(*task.Suite); ok {
			r.settleAll(ctx, sub, st, errs)
		}
		if test, ok := t.(*task.Test); ok && st == task.StateFail {
			r.recordFailure(test)
		}
		r.emit(ctx, t)
	}
}
