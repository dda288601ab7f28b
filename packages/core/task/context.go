package task

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"sync"

	"github.com/abdul-hamid-achik/hitrun/packages/core/fixture"
)

// TestContext is handed to a test body and to its beforeEach/afterEach
// hooks. It is safe for concurrent use by goroutines the body starts.
//
// Skip and Fatal stop the calling goroutine with runtime.Goexit, the
// same way testing.T.SkipNow does, so ordinary error handling in the
// body cannot swallow them. They must be called from the goroutine
// running the body or hook.
type TestContext struct {
	ctx  context.Context
	test *Test

	mu      sync.Mutex
	values  fixture.Values
	errors  []*Error
	skipped bool
	note    string
	fatal   bool

	// per-attempt registrations, published to the test by Close
	onFailed   []ResultHandler
	onFinished []ResultHandler
	promises   []<-chan error
	closed     bool
}

func NewTestContext(ctx context.Context, t *Test) *TestContext {
	return &TestContext{ctx: ctx, test: t, values: fixture.Values{}}
}

// Context is cancelled when the attempt times out or the run is
// cancelled.
func (c *TestContext) Context() context.Context { return c.ctx }

func (c *TestContext) Test() *Test { return c.test }

func (c *TestContext) Name() string { return c.test.Name }

// SetValues installs the resolved fixture values.
func (c *TestContext) SetValues(v fixture.Values) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = v
}

// Values returns the resolved fixtures visible to the test.
func (c *TestContext) Values() fixture.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(fixture.Values, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Fixture returns the value of a resolved fixture, or nil when the test
// did not declare it.
func (c *TestContext) Fixture(name string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[name]
}

// Skip marks the attempt skipped with an optional note and stops the
// calling goroutine. Statements after Skip never run.
func (c *TestContext) Skip(note ...string) {
	c.mu.Lock()
	c.skipped = true
	if len(note) > 0 {
		c.note = note[0]
	}
	c.mu.Unlock()
	runtime.Goexit()
}

// Skipped reports whether Skip was called and with which note.
func (c *TestContext) Skipped() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.skipped, c.note
}

// Error records a soft failure and lets the body continue.
func (c *TestContext) Error(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, Wrap(KindAssertion, err))
}

func (c *TestContext) Errorf(format string, args ...any) {
	c.Error(fmt.Errorf(format, args...))
}

// Fatal records err and stops the calling goroutine.
func (c *TestContext) Fatal(err error) {
	c.Error(err)
	c.mu.Lock()
	c.fatal = true
	c.mu.Unlock()
	runtime.Goexit()
}

func (c *TestContext) Fatalf(format string, args ...any) {
	c.Fatal(fmt.Errorf(format, args...))
}

// Failed reports whether any error was recorded.
func (c *TestContext) Failed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors) > 0 || c.fatal
}

// Errors returns the recorded errors in order.
func (c *TestContext) Errors() []*Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.errors)
}

// Go runs fn as an asynchronous soft assertion. The runner waits for it
// after the body returns and records its error, if any. Once the attempt
// is closed fn is not started.
func (c *TestContext) Go(fn func() error) {
	ch := make(chan error, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.promises = append(c.promises, ch)
	c.mu.Unlock()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- fmt.Errorf("panic: %v", p)
			}
		}()
		ch <- fn()
	}()
}

// Await waits for every function started with Go and returns their
// failures. It stops waiting when ctx is done.
func (c *TestContext) Await(ctx context.Context) []*Error {
	c.mu.Lock()
	promises := slices.Clone(c.promises)
	c.mu.Unlock()

	var errs []*Error
	for _, p := range promises {
		select {
		case err := <-p:
			if err != nil {
				errs = append(errs, Wrap(KindAssertion, err))
			}
		case <-ctx.Done():
			return append(errs, Errorf(KindTimeout, "pending assertions did not settle: %v", ctx.Err()))
		}
	}
	return errs
}

// OnTestFailed registers fn to run after the current attempt fails.
// Registrations after the attempt closed are ignored.
func (c *TestContext) OnTestFailed(fn ResultHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.onFailed = append(c.onFailed, fn)
	}
}

// OnTestFinished registers fn to run after the current attempt finishes.
// Registrations after the attempt closed are ignored.
func (c *TestContext) OnTestFinished(fn ResultHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.onFinished = append(c.onFinished, fn)
	}
}

// Close ends the registration window of the attempt and publishes its
// handlers and promises on the test. A body abandoned by a timeout can
// keep running, but nothing it registers afterwards reaches the test.
func (c *TestContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.test.OnFailed = slices.Clone(c.onFailed)
	c.test.OnFinished = slices.Clone(c.onFinished)
	c.test.Promises = slices.Clone(c.promises)
}

// Handlers returns the failure and finish handlers of this attempt.
func (c *TestContext) Handlers() (failed, finished []ResultHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.onFailed), slices.Clone(c.onFinished)
}

// SetMeta stores a serializable value in the test's meta.
func (c *TestContext) SetMeta(key string, value any) error {
	return c.test.Meta.Set(key, value)
}
