package collect

import (
	"slices"
	"time"
)

// flags accumulates registration modifiers. Pointer fields are unset
// until a modifier sets them explicitly, so inherited defaults can be
// told apart from explicit overrides.
type flags struct {
	only       bool
	skip       bool
	todo       bool
	fails      bool
	concurrent *bool
	sequential bool
	shuffle    *bool
	retry      *int
	repeats    *int
	timeout    *time.Duration
	tags       []string
	uses       []string
}

func (f flags) clone() flags {
	f.tags = slices.Clone(f.tags)
	f.uses = slices.Clone(f.uses)
	return f
}

// Option is a registration modifier.
type Option func(*flags)

func Only() Option { return func(f *flags) { f.only = true } }

func Skip() Option { return func(f *flags) { f.skip = true } }

func Todo() Option { return func(f *flags) { f.todo = true } }

// Fails expects the test to fail: a failing test is reported as passed
// and a passing one as failed.
func Fails() Option { return func(f *flags) { f.fails = true } }

func Concurrent() Option {
	return func(f *flags) {
		v := true
		f.concurrent = &v
		f.sequential = false
	}
}

// Sequential cancels an inherited concurrent default.
func Sequential() Option {
	return func(f *flags) {
		v := false
		f.concurrent = &v
		f.sequential = true
	}
}

func Shuffle() Option {
	return func(f *flags) {
		v := true
		f.shuffle = &v
	}
}

func Retry(n int) Option { return func(f *flags) { f.retry = &n } }

func Repeats(n int) Option { return func(f *flags) { f.repeats = &n } }

func Timeout(d time.Duration) Option { return func(f *flags) { f.timeout = &d } }

// Tags labels the task. Suite tags are inherited by descendants.
func Tags(tags ...string) Option {
	return func(f *flags) { f.tags = append(f.tags, tags...) }
}

// Uses declares the fixtures a test body and its hooks read.
func Uses(names ...string) Option {
	return func(f *flags) { f.uses = append(f.uses, names...) }
}
