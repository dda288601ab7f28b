package collect

import "github.com/abdul-hamid-achik/hitrun/packages/core/task"

// Registrar is implemented by *Collector and *Chain. It lets the
// expansion helpers below register through either.
type Registrar interface {
	chain() *Chain
}

func (c *Collector) chain() *Chain { return c.With() }

func (ch *Chain) chain() *Chain { return ch }

// Each registers one test per case. A slice or array case is spread into
// the name's positional verbs, so cases [][]int{{1, 2}} and the name
// "add %i + %i" yield "add 1 + 2".
func Each[T any](r Registrar, name string, cases []T, fn func(tc *task.TestContext, item T) error) []*task.Test {
	return expandTests(r, name, cases, fn, true)
}

// For is Each without spreading: every case fills a single argument.
func For[T any](r Registrar, name string, cases []T, fn func(tc *task.TestContext, item T) error) []*task.Test {
	return expandTests(r, name, cases, fn, false)
}

// EachDescribe registers one suite per case.
func EachDescribe[T any](r Registrar, name string, cases []T, factory func(c *Collector, item T)) []*task.Suite {
	ch := r.chain()
	if ch.disabled {
		return nil
	}
	suites := make([]*task.Suite, 0, len(cases))
	for i, item := range cases {
		var fill func(*Collector)
		if factory != nil {
			fill = func(c *Collector) { factory(c, item) }
		}
		title := FormatName(name, i, spread(item)...)
		suites = append(suites, ch.c.addSuite(title, fill, ch.f, ch.fixtures, true))
	}
	return suites
}

func expandTests[T any](r Registrar, name string, cases []T, fn func(*task.TestContext, T) error, spreadArgs bool) []*task.Test {
	ch := r.chain()
	if ch.disabled {
		return nil
	}
	tests := make([]*task.Test, 0, len(cases))
	for i, item := range cases {
		var body task.TestFunc
		if fn != nil {
			body = func(tc *task.TestContext) error { return fn(tc, item) }
		}
		args := []any{item}
		if spreadArgs {
			args = spread(item)
		}
		tests = append(tests, ch.c.addTest(FormatName(name, i, args...), body, ch.f, ch.fixtures, true))
	}
	return tests
}
