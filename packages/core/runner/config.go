package runner

import (
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/hooks"
	"github.com/abdul-hamid-achik/hitrun/packages/core/task"
	"github.com/rs/zerolog"
)

const (
	// DefaultConcurrency is the default number of concurrent tests
	DefaultConcurrency = 5
	// DefaultTestTimeout bounds one test attempt (fixtures, beforeEach, body)
	DefaultTestTimeout = 5 * time.Second
	// DefaultHookTimeout bounds one hook or teardown call
	DefaultHookTimeout = 10 * time.Second
)

// Sequence controls ordering.
type Sequence struct {
	// Hooks is the hook sequencing policy.
	Hooks hooks.Sequence
	// Shuffle permutes files and the children of every suite, on top of
	// suites that request it themselves.
	Shuffle bool
	// Seed makes shuffled orders reproducible. Zero picks a time-based
	// seed, logged at the start of the run.
	Seed int64
}

type Config struct {
	// TestTimeout and HookTimeout apply when a task sets none. A
	// negative value disables the limit.
	TestTimeout time.Duration
	HookTimeout time.Duration

	Sequence Sequence

	MaxConcurrency int

	// Bail skips the remaining tests once this many tests failed. Zero
	// disables it.
	Bail int

	// ForbidOnly fails tests and suites marked only, as on CI.
	ForbidOnly bool

	// NameFilter is a glob (*foo, foo*, *foo*) matched against full test
	// names. TagsFilter keeps tests carrying any of the tags. OnlyIDs
	// keeps the listed tasks and everything under them.
	NameFilter string
	TagsFilter []string
	OnlyIDs    []string

	LogHeapUsage bool

	// RunTask executes tests registered without a body.
	RunTask task.TestFunc

	Reporters []Reporter
	// UpdateInterval throttles result pack delivery. Zero delivers every
	// update immediately.
	UpdateInterval time.Duration

	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.TestTimeout == 0 {
		c.TestTimeout = DefaultTestTimeout
	}
	if c.HookTimeout == 0 {
		c.HookTimeout = DefaultHookTimeout
	}
	if c.TestTimeout < 0 {
		c.TestTimeout = 0
	}
	if c.HookTimeout < 0 {
		c.HookTimeout = 0
	}
	if c.Sequence.Hooks == "" {
		c.Sequence.Hooks = hooks.DefaultSequence
	}
	if c.Sequence.Seed == 0 {
		c.Sequence.Seed = time.Now().UnixNano()
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultConcurrency
	}
	if c.Logger == nil {
		nop := zerolog.Nop()
		c.Logger = &nop
	}
	return c
}
