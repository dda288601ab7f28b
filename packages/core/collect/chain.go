package collect

import (
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/fixture"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
)

// Chain accumulates modifiers for the next registration. Every modifier
// returns a new Chain, so a partially built chain can be reused.
//
//	c.Concurrent().Retry(2).Test("flaky", fn)
//	c.SkipIf(runtime.GOOS == "windows").Describe("unix", factory)
type Chain struct {
	c        *Collector
	f        flags
	fixtures *fixture.Set
	// disabled chains come from SkipIf/RunIf and register nothing.
	disabled bool
}

// With starts a chain from option functions.
func (c *Collector) With(opts ...Option) *Chain {
	ch := &Chain{c: c, fixtures: c.fixtures}
	for _, opt := range opts {
		opt(&ch.f)
	}
	return ch
}

func (c *Collector) Only() *Chain       { return c.With(Only()) }
func (c *Collector) Skip() *Chain       { return c.With(Skip()) }
func (c *Collector) Concurrent() *Chain { return c.With(Concurrent()) }
func (c *Collector) Sequential() *Chain { return c.With(Sequential()) }
func (c *Collector) Shuffle() *Chain    { return c.With(Shuffle()) }
func (c *Collector) Fails() *Chain      { return c.With(Fails()) }

func (c *Collector) SkipIf(cond bool) *Chain { return c.With().SkipIf(cond) }
func (c *Collector) RunIf(cond bool) *Chain  { return c.With().RunIf(cond) }

func (ch *Chain) apply(opts ...Option) *Chain {
	next := &Chain{c: ch.c, f: ch.f.clone(), fixtures: ch.fixtures, disabled: ch.disabled}
	for _, opt := range opts {
		opt(&next.f)
	}
	return next
}

func (ch *Chain) Only() *Chain                   { return ch.apply(Only()) }
func (ch *Chain) Skip() *Chain                   { return ch.apply(Skip()) }
func (ch *Chain) Todo() *Chain                   { return ch.apply(Todo()) }
func (ch *Chain) Concurrent() *Chain             { return ch.apply(Concurrent()) }
func (ch *Chain) Sequential() *Chain             { return ch.apply(Sequential()) }
func (ch *Chain) Shuffle() *Chain                { return ch.apply(Shuffle()) }
func (ch *Chain) Fails() *Chain                  { return ch.apply(Fails()) }
func (ch *Chain) Retry(n int) *Chain             { return ch.apply(Retry(n)) }
func (ch *Chain) Repeats(n int) *Chain           { return ch.apply(Repeats(n)) }
func (ch *Chain) Timeout(d time.Duration) *Chain { return ch.apply(Timeout(d)) }
func (ch *Chain) Tags(tags ...string) *Chain     { return ch.apply(Tags(tags...)) }
func (ch *Chain) Uses(names ...string) *Chain    { return ch.apply(Uses(names...)) }

// SkipIf disables the chain when cond is true.
func (ch *Chain) SkipIf(cond bool) *Chain {
	next := ch.apply()
	next.disabled = next.disabled || cond
	return next
}

// RunIf disables the chain when cond is false.
func (ch *Chain) RunIf(cond bool) *Chain {
	return ch.SkipIf(!cond)
}

// Extend layers fixtures over the chain's set. An invalid graph is
// recorded as a collection error and the chain keeps its previous set.
func (ch *Chain) Extend(fixtures ...*fixture.Fixture) *Chain {
	next := ch.apply()
	set, err := ch.fixtures.Extend(fixtures...)
	if err != nil {
		ch.c.Fail(err)
		return next
	}
	next.fixtures = set
	return next
}

// Test registers a test and returns it, or nil on a disabled chain.
func (ch *Chain) Test(name string, fn task.TestFunc) *task.Test {
	if ch.disabled {
		return nil
	}
	return ch.c.addTest(name, fn, ch.f, ch.fixtures, false)
}

// Describe registers a suite and returns it, or nil on a disabled chain.
func (ch *Chain) Describe(name string, factory func(c *Collector)) *task.Suite {
	if ch.disabled {
		return nil
	}
	return ch.c.addSuite(name, factory, ch.f, ch.fixtures, false)
}
