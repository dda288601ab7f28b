// Package collect builds File > Suite > Test trees from registration
// calls made by suite factories.
package collect

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/fixture"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// Options are the file-level defaults applied while collecting.
type Options struct {
	// Root is the project root file IDs are computed relative to.
	Root        string
	ProjectName string
	Pool        string

	Concurrent bool
	Shuffle    bool
	Retry      int
	Repeats    int
	Timeout    time.Duration

	// IncludeLocation records the registration line of every task.
	IncludeLocation bool

	Fixtures *fixture.Set
}

// Collector is the in-progress builder of one suite. It is passed
// explicitly to suite factories; nothing about the active suite lives in
// package state, so files can be collected concurrently or repeatedly.
type Collector struct {
	file     *task.File
	suite    *task.Suite
	opts     *Options
	fixtures *fixture.Set
}

// Collect evaluates factory against a fresh file and returns the
// finalized tree with IDs assigned. Collection errors are recorded on
// the suite they happened in; the returned error is reserved for
// conditions that prevent building a file at all.
func Collect(ctx context.Context, path string, opts Options, factory func(c *Collector)) (*task.File, error) {
	if path == "" {
		return nil, errors.New("collect: empty file path")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	rel := task.RelativePath(opts.Root, path)

	f := &task.File{
		Filepath:    path,
		ProjectName: opts.ProjectName,
		Pool:        opts.Pool,
	}
	f.ID = task.FileID(rel, opts.ProjectName)
	f.Name = rel
	f.Mode = task.ModeRun
	f.Meta = task.NewMeta()
	f.File = f
	f.Concurrent = opts.Concurrent
	f.Shuffle = opts.Shuffle
	f.Retry = opts.Retry
	f.Repeats = opts.Repeats
	f.Timeout = opts.Timeout

	c := &Collector{file: f, suite: &f.Suite, opts: &opts, fixtures: opts.Fixtures}
	c.run(factory)

	task.AssignIDs(&f.Suite)
	f.CollectDuration = time.Since(start)
	return f, nil
}

func (c *Collector) run(factory func(*Collector)) {
	if factory == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			c.Fail(fmt.Errorf("panic while collecting %q: %v", c.suite.Name, p))
		}
	}()
	factory(c)
}

// File returns the file being collected.
func (c *Collector) File() *task.File { return c.file }

// Suite returns the suite this collector fills.
func (c *Collector) Suite() *task.Suite { return c.suite }

// Fail records a collection error on the current suite. Tasks collected
// so far stay in the tree.
func (c *Collector) Fail(err error) {
	if err == nil {
		return
	}
	s := c.suite
	if s.Result == nil {
		s.Result = &task.Result{State: task.StateFail, StartTime: time.Now()}
	}
	s.Result.Fail(task.KindCollection, err)
}

// Use replaces the fixture set for tasks registered after the call.
func (c *Collector) Use(set *fixture.Set) {
	c.fixtures = set
}

// Extend layers fixtures over the current set for tasks registered after
// the call. An invalid graph is a collection error.
func (c *Collector) Extend(fixtures ...*fixture.Fixture) error {
	set, err := c.fixtures.Extend(fixtures...)
	if err != nil {
		c.Fail(err)
		return err
	}
	c.fixtures = set
	return nil
}

func (c *Collector) BeforeAll(fn task.SuiteHookFunc) {
	c.suite.Hooks.BeforeAll = append(c.suite.Hooks.BeforeAll, fn)
}

func (c *Collector) AfterAll(fn task.SuiteHookFunc) {
	c.suite.Hooks.AfterAll = append(c.suite.Hooks.AfterAll, fn)
}

func (c *Collector) BeforeEach(fn task.TestHookFunc) {
	c.suite.Hooks.BeforeEach = append(c.suite.Hooks.BeforeEach, fn)
}

func (c *Collector) AfterEach(fn task.TestHookFunc) {
	c.suite.Hooks.AfterEach = append(c.suite.Hooks.AfterEach, fn)
}

// Test registers a test.
func (c *Collector) Test(name string, fn task.TestFunc, opts ...Option) *task.Test {
	return c.With(opts...).Test(name, fn)
}

// Todo registers a placeholder test.
func (c *Collector) Todo(name string) *task.Test {
	return c.With(Todo()).Test(name, nil)
}

// Describe registers a nested suite filled by factory.
func (c *Collector) Describe(name string, factory func(c *Collector), opts ...Option) *task.Suite {
	return c.With(opts...).Describe(name, factory)
}

func (c *Collector) newBase(name string, f flags, each bool) task.Base {
	p := c.suite
	b := task.Base{
		Name:       name,
		Meta:       task.NewMeta(),
		Each:       each,
		Suite:      p,
		File:       c.file,
		Concurrent: p.Concurrent,
		Shuffle:    p.Shuffle,
		Retry:      p.Retry,
		Repeats:    p.Repeats,
		Timeout:    p.Timeout,
		Tags:       append(slices.Clone(p.Tags), f.tags...),
	}
	if f.concurrent != nil {
		b.Concurrent = *f.concurrent
	}
	if f.shuffle != nil {
		b.Shuffle = *f.shuffle
	}
	if f.retry != nil {
		b.Retry = *f.retry
	}
	if f.repeats != nil {
		b.Repeats = *f.repeats
	}
	if f.timeout != nil {
		b.Timeout = *f.timeout
	}
	if c.opts.IncludeLocation {
		b.Location = callerLocation()
	}
	return b
}

// mode resolves the registration mode. A skipped or todo suite forces
// its mode on every descendant, and a suite without a factory is todo.
// A test without a body keeps its mode: the runner's RunTask callback
// executes it.
func (c *Collector) mode(f flags, emptySuite bool) task.Mode {
	switch {
	case c.suite.Mode == task.ModeSkip || c.suite.Mode == task.ModeTodo:
		return c.suite.Mode
	case f.todo || emptySuite:
		return task.ModeTodo
	case f.skip:
		return task.ModeSkip
	case f.only:
		return task.ModeOnly
	}
	return task.ModeRun
}

func (c *Collector) addTest(name string, fn task.TestFunc, f flags, set *fixture.Set, each bool) *task.Test {
	t := &task.Test{
		Base:     c.newBase(name, f, each),
		Fn:       fn,
		Fails:    f.fails,
		Fixtures: set,
		Uses:     slices.Clone(f.uses),
	}
	t.Mode = c.mode(f, false)
	c.suite.Tasks = append(c.suite.Tasks, t)
	return t
}

func (c *Collector) addSuite(name string, factory func(*Collector), f flags, set *fixture.Set, each bool) *task.Suite {
	s := &task.Suite{Base: c.newBase(name, f, each)}
	s.Mode = c.mode(f, factory == nil)
	c.suite.Tasks = append(c.suite.Tasks, s)

	child := &Collector{file: c.file, suite: s, opts: c.opts, fixtures: set}
	child.run(factory)
	return s
}

var collectDir = func() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Dir(file)
}()

// callerLocation returns the first frame outside this package. Go frames
// carry no column, so Column is always zero.
func callerLocation() *task.Location {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(2, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		inPackage := filepath.Dir(frame.File) == collectDir && !strings.HasSuffix(frame.File, "_test.go")
		if !inPackage {
			return &task.Location{Line: frame.Line}
		}
		if !more {
			return nil
		}
	}
}
