package task

import (
	"context"
	"time"

	"github.com/abdul-hamid-achik/hitrun/packages/core/fixture"
)

// Mode is the registration-time run mode of a task.
type Mode string

const (
	ModeRun  Mode = "run"
	ModeSkip Mode = "skip"
	ModeOnly Mode = "only"
	ModeTodo Mode = "todo"
)

// Type identifies the variant of a Task.
type Type string

const (
	TypeFile  Type = "file"
	TypeSuite Type = "suite"
	TypeTest  Type = "test"
)

// Location is the source position a task was registered at.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Task is implemented by *File, *Suite and *Test.
type Task interface {
	Common() *Base
	Type() Type
}

// Base holds the fields shared by every task variant.
type Base struct {
	ID         string
	Name       string
	Mode       Mode
	Meta       *Meta
	Each       bool
	Concurrent bool
	Shuffle    bool
	Retry      int
	Repeats    int
	Timeout    time.Duration
	Tags       []string
	Location   *Location

	// Suite is the parent suite. It is nil for files.
	Suite *Suite
	// File is the file the task belongs to. A file points at itself.
	File *File

	Result *Result
}

func (b *Base) Common() *Base { return b }

// SuiteHookFunc is a beforeAll/afterAll hook.
type SuiteHookFunc func(ctx context.Context, s *Suite) error

// TestHookFunc is a beforeEach/afterEach hook.
type TestHookFunc func(tc *TestContext) error

// TestFunc is a test body.
type TestFunc func(tc *TestContext) error

// ResultHandler is an onTestFailed/onTestFinished callback.
type ResultHandler func(r *Result) error

// Hooks are the lifecycle callbacks registered on a suite.
type Hooks struct {
	BeforeAll  []SuiteHookFunc
	AfterAll   []SuiteHookFunc
	BeforeEach []TestHookFunc
	AfterEach  []TestHookFunc
}

// Suite is a group of tasks. It owns its Tasks.
type Suite struct {
	Base
	Tasks []Task
	Hooks Hooks
}

func (s *Suite) Type() Type { return TypeSuite }

// File is the root suite of a collected file.
type File struct {
	Suite
	Filepath        string
	ProjectName     string
	Pool            string
	CollectDuration time.Duration
	SetupDuration   time.Duration
	// Local marks a file populated without executing it.
	Local bool
}

func (f *File) Type() Type { return TypeFile }

// Test is a single runnable unit.
type Test struct {
	Base
	Fn      TestFunc
	Pending bool
	// Fails inverts the final pass/fail state.
	Fails bool

	// Fixtures is the fixture set visible to the test and Uses the
	// fixture names its body and hooks need.
	Fixtures *fixture.Set
	Uses     []string

	// Handlers and promises of the last finished attempt, published by
	// TestContext.Close. Only the runner goroutine writes them.
	OnFailed   []ResultHandler
	OnFinished []ResultHandler
	Promises   []<-chan error

	Context *TestContext
}

func (t *Test) Type() Type { return TypeTest }
